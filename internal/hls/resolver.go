package hls

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Resolver loads a presentation and the segment lists of its variants.
type Resolver struct {
	url            string
	loader         *Loader
	parser         Parser
	fallbackCodecs []string
	logger         *slog.Logger

	mu    sync.Mutex
	lists map[string]*SegmentList
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// URL is the multivariant (or media) playlist.
	URL    string
	Loader *Loader
	Parser Parser
	// FallbackCodecs are declared on the single variant synthesized when
	// URL turns out to be a media playlist.
	FallbackCodecs []string
	Logger         *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	parser := cfg.Parser
	if parser == nil {
		parser = GohlslibParser{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		url:            cfg.URL,
		loader:         cfg.Loader,
		parser:         parser,
		fallbackCodecs: cfg.FallbackCodecs,
		logger:         logger.With(slog.String("component", "manifest")),
		lists:          make(map[string]*SegmentList),
	}
}

// URL returns the presentation URL.
func (r *Resolver) URL() string {
	return r.url
}

// FallbackCodecs returns the codecs declared on synthesized variants.
func (r *Resolver) FallbackCodecs() []string {
	return r.fallbackCodecs
}

// ResolveManifest loads the presentation. A media playlist at the top level
// yields a synthetic single-variant manifest.
func (r *Resolver) ResolveManifest(ctx context.Context) (*Manifest, error) {
	pl, err := r.load(ctx, r.url)
	if err != nil {
		return nil, err
	}
	if pl.Media != nil {
		r.logger.DebugContext(ctx, "top-level playlist is a media playlist",
			slog.String("url", r.url),
			slog.Int("segments", len(pl.Media.Segments)),
		)
		r.store(pl.Media)
		return SyntheticManifest(r.url, r.fallbackCodecs), nil
	}
	r.logger.DebugContext(ctx, "resolved multivariant playlist",
		slog.String("url", r.url),
		slog.Int("variants", len(pl.Manifest.Variants)),
	)
	return pl.Manifest, nil
}

// ResolveSegmentList returns the segment list of v, loading it on first use.
func (r *Resolver) ResolveSegmentList(ctx context.Context, v *Variant) (*SegmentList, error) {
	r.mu.Lock()
	list, ok := r.lists[v.URL]
	r.mu.Unlock()
	if ok {
		return list, nil
	}

	pl, err := r.load(ctx, v.URL)
	if err != nil {
		return nil, err
	}
	if pl.Media == nil {
		return nil, fmt.Errorf("%s: %w", v.URL, ErrNotMediaPlaylist)
	}
	r.store(pl.Media)
	return pl.Media, nil
}

func (r *Resolver) load(ctx context.Context, url string) (*Playlist, error) {
	data, err := r.loader.Load(ctx, url)
	if err != nil {
		return nil, err
	}
	pl, err := r.parser.Parse(data, url)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	return pl, nil
}

func (r *Resolver) store(list *SegmentList) {
	r.mu.Lock()
	r.lists[list.URL] = list
	r.mu.Unlock()
}
