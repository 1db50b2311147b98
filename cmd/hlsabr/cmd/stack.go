package cmd

import (
	"fmt"
	"log/slog"

	"github.com/jmylchreest/hlsabr/internal/abr"
	"github.com/jmylchreest/hlsabr/internal/bandwidth"
	"github.com/jmylchreest/hlsabr/internal/codec"
	"github.com/jmylchreest/hlsabr/internal/config"
	"github.com/jmylchreest/hlsabr/internal/demux"
	"github.com/jmylchreest/hlsabr/internal/fetch"
	"github.com/jmylchreest/hlsabr/internal/hls"
	"github.com/jmylchreest/hlsabr/internal/session"
	"github.com/jmylchreest/hlsabr/internal/transport"
	"github.com/jmylchreest/hlsabr/internal/version"
)

// stack holds the collaborators a session is built from.
type stack struct {
	cfg      *config.Config
	client   *transport.Client
	meter    *bandwidth.Meter
	source   *transport.Source
	resolver *hls.Resolver
	demuxers demux.Factory
	ivRule   fetch.IVRule
	policy   fetch.ParseErrorPolicy
	logger   *slog.Logger
}

// newStack wires the transport, manifest and demux layers for url.
func newStack(cfg *config.Config, url string, logger *slog.Logger) (*stack, error) {
	parser, err := hls.NewParser(cfg.Manifest.Parser)
	if err != nil {
		return nil, err
	}
	demuxers, err := demux.NewFactory(cfg.Demux.Engine, logger)
	if err != nil {
		return nil, err
	}
	ivRule, err := fetch.ParseIVRule(cfg.Fetch.IVRule)
	if err != nil {
		return nil, err
	}
	policy, err := fetch.ParsePolicy(cfg.Fetch.OnParseError)
	if err != nil {
		return nil, err
	}

	client := transport.New(transportConfig(cfg, logger))
	meter := bandwidth.NewMeter(cfg.Bandwidth.WindowSize)
	source := transport.NewSource(client, meter)
	source.Handle(fetch.EncryptedScheme, fetch.NewDecryptingOpener(source))

	resolver := hls.NewResolver(hls.ResolverConfig{
		URL:            url,
		Loader:         hls.NewLoader(source, cfg.Manifest.MaxBytes.Bytes()),
		Parser:         parser,
		FallbackCodecs: cfg.Manifest.FallbackCodecs,
		Logger:         logger,
	})

	return &stack{
		cfg:      cfg,
		client:   client,
		meter:    meter,
		source:   source,
		resolver: resolver,
		demuxers: demuxers,
		ivRule:   ivRule,
		policy:   policy,
		logger:   logger,
	}, nil
}

func transportConfig(cfg *config.Config, logger *slog.Logger) transport.Config {
	ua := cfg.Fetch.UserAgent
	if ua == "" {
		ua = version.UserAgent("")
	}
	return transport.Config{
		Timeout:           cfg.Transport.Timeout,
		RetryAttempts:     cfg.Transport.RetryAttempts,
		RetryDelay:        cfg.Transport.RetryDelay,
		RetryMaxDelay:     cfg.Transport.RetryMaxDelay,
		BackoffMultiplier: cfg.Transport.BackoffMultiplier,
		CircuitThreshold:  cfg.Transport.CircuitThreshold,
		CircuitTimeout:    cfg.Transport.CircuitTimeout,
		UserAgent:         ua,
		Logger:            logger,
	}
}

// newSession builds an unprepared session reporting to observer, which may be nil.
func (st *stack) newSession(observer session.Observer) (*session.Session, error) {
	cfg := session.Config{
		Manifest:  st.resolver,
		Opener:    st.source,
		Demuxers:  st.demuxers,
		Headers:   codec.ADTSParser{},
		Estimator: st.meter,
		Observer:  observer,
		ABR: abr.Config{
			SafetyFraction:     st.cfg.ABR.SafetyFraction,
			InitialBitrate:     st.cfg.ABR.InitialBitrate,
			UpgradeThreshold:   st.cfg.ABR.UpgradeThreshold,
			DowngradeThreshold: st.cfg.ABR.DowngradeThreshold,
		},
		ManualBitrate:  st.cfg.ABR.ManualBitrate,
		MaxBufferBytes: st.cfg.Buffer.MaxBytes.Bytes(),
		IVRule:         st.ivRule,
		OnParseError:   st.policy,
		Logger:         st.logger,
	}
	s, err := session.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return s, nil
}
