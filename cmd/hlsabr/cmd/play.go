package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlsabr/internal/config"
	"github.com/jmylchreest/hlsabr/internal/database"
	"github.com/jmylchreest/hlsabr/internal/history"
	internalhttp "github.com/jmylchreest/hlsabr/internal/http"
	"github.com/jmylchreest/hlsabr/internal/http/handlers"
	"github.com/jmylchreest/hlsabr/internal/observability"
	"github.com/jmylchreest/hlsabr/internal/reporter"
	"github.com/jmylchreest/hlsabr/internal/repository"
	"github.com/jmylchreest/hlsabr/internal/session"
	"github.com/jmylchreest/hlsabr/internal/version"
	"github.com/jmylchreest/hlsabr/pkg/format"
)

const closeTimeout = 10 * time.Second

var playCmd = &cobra.Command{
	Use:   "play <url>",
	Short: "Play a presentation headlessly",
	Long: `Play an HLS presentation without rendering it.

The player buffers segments, drains every enabled track on a simulated
playback clock and adapts the variant to the measured bandwidth. It stops
on SIGINT/SIGTERM, after --duration, or once a finite presentation has been
played to the end.

With history enabled every completed fetch is recorded; with the server
enabled the session is available at /api/v1/session.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().Duration("duration", 0, "stop after this long (0 plays until the end or a signal)")
	playCmd.Flags().Duration("tick", 100*time.Millisecond, "playback clock step")
	playCmd.Flags().Int("manual-bitrate", 0, "pin selection below this bitrate in bps (0 adapts)")
	playCmd.Flags().Bool("history", false, "record completed fetches")
	playCmd.Flags().Bool("serve", false, "serve the status API")

	mustBindPFlag("abr.manual_bitrate", playCmd.Flags().Lookup("manual-bitrate"))
	mustBindPFlag("history.enabled", playCmd.Flags().Lookup("history"))
	mustBindPFlag("server.enabled", playCmd.Flags().Lookup("serve"))
}

func runPlay(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tick, _ := cmd.Flags().GetDuration("tick")
	if tick <= 0 {
		return errors.New("--tick must be positive")
	}
	limit, _ := cmd.Flags().GetDuration("duration")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if limit > 0 {
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	logger := slog.Default()
	st, err := newStack(cfg, args[0], logger)
	if err != nil {
		return err
	}

	var (
		db       *database.DB
		recorder *history.Recorder
		observer session.Observer
	)
	if cfg.History.Enabled {
		db, err = database.Open(ctx, cfg.History, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		recorder = history.NewRecorder(repository.NewFetchRecordRepository(db.DB), history.Options{Logger: logger})
		observer = recorder
		defer closeRecorder(recorder, logger)
	}

	s, err := st.newSession(observer)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := s.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	ctx = observability.ContextWithSessionID(ctx, s.ID())
	if err := s.Prepare(ctx); err != nil {
		return fmt.Errorf("preparing session: %w", err)
	}
	tracks, err := enableAll(s)
	if err != nil {
		return err
	}

	var serverErr chan error
	if cfg.Server.Enabled {
		serverErr = make(chan error, 1)
		server := newStatusServer(cfg, logger, st, db, s)
		go func() { serverErr <- server.ListenAndServe(ctx) }()
	}

	if cfg.Report.Schedule != "" {
		rep, err := reporter.New(s, cfg.Report.Schedule, logger)
		if err != nil {
			return err
		}
		if err := rep.Start(ctx); err != nil {
			return err
		}
		defer rep.Stop()
	}

	logger.InfoContext(ctx, "playback started",
		slog.String("session_id", s.ID()),
		slog.String("url", args[0]),
		slog.Int("tracks", len(tracks)),
	)

	stats, err := newPlayer(s, tracks, tick, logger).Run(ctx)
	cancel()
	if serverErr != nil {
		if serr := <-serverErr; serr != nil {
			logger.Warn("status server", slog.String("error", serr.Error()))
		}
	}
	if err != nil {
		return fmt.Errorf("playing: %w", err)
	}

	logger.InfoContext(ctx, "playback finished",
		slog.String("session_id", s.ID()),
		slog.String("position", format.Micros(stats.PositionUs)),
		slog.Int("samples", stats.Samples),
		slog.String("bytes", format.Bytes(stats.Bytes)),
		slog.Int("stalls", stats.Stalls),
		slog.Int("switches", stats.Switches),
		slog.String("estimate", format.Bitrate(st.meter.EstimateBps())),
	)
	return nil
}

// enableAll enables every track from the start and returns the track map.
func enableAll(s *session.Session) ([]session.TrackInfo, error) {
	n, err := s.TrackCount()
	if err != nil {
		return nil, err
	}
	tracks := make([]session.TrackInfo, 0, n)
	for i := range n {
		if err := s.Enable(i, 0); err != nil {
			return nil, err
		}
		info, err := s.TrackInfo(i)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, info)
	}
	return tracks, nil
}

func newStatusServer(cfg *config.Config, logger *slog.Logger, st *stack, db *database.DB, s *session.Session) *internalhttp.Server {
	server := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)

	health := handlers.NewHealthHandler(version.Version).WithCircuit(st.client)
	sessions := handlers.NewSessionHandler()
	sessions.Attach(s)
	regs := []internalhttp.Registrar{sessions}
	if db != nil {
		health = health.WithDB(db)
		regs = append(regs, handlers.NewHistoryHandler(repository.NewFetchRecordRepository(db.DB)))
	}
	server.Register(append(regs, health)...)
	return server
}

func closeRecorder(r *history.Recorder, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		logger.Warn("flushing fetch history", slog.String("error", err.Error()))
	}
	written, dropped, failed := r.Stats()
	logger.Info("fetch history closed",
		slog.Int64("written", written),
		slog.Int64("dropped", dropped),
		slog.Int64("failed", failed),
	)
}
