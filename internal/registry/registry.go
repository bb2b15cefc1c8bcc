package registry

import (
	"context"
	"io/fs"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgnsrekt/chime/internal/sound"
)

const tracerName = "github.com/dgnsrekt/chime/internal/registry"

// Codec reads and decodes sources. *decode.Adapter satisfies it.
type Codec interface {
	sound.Decoder
	ReadFile(path string) ([]byte, error)
	ReadFS(fsys fs.FS, path string) ([]byte, error)
}

type snapshot = map[string]*sound.Asset

// Registry maps sound names to decoded assets.
type Registry struct {
	codec  Codec
	logger *log.Logger
	tracer trace.Tracer

	// mu serializes writers; readers only load assets.
	mu     sync.Mutex
	assets atomic.Pointer[snapshot]
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for overwrite and load messages.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty registry.
func New(codec Codec, opts ...Option) *Registry {
	r := &Registry{
		codec:  codec,
		logger: log.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	empty := make(snapshot)
	r.assets.Store(&empty)
	return r
}

// Load reads and decodes path, then registers it as name. On failure the
// registry is left unchanged.
func (r *Registry) Load(ctx context.Context, name, path string) error {
	return r.load(ctx, name, path, func() ([]byte, error) {
		return r.codec.ReadFile(path)
	})
}

// LoadFS is Load for a file inside fsys.
func (r *Registry) LoadFS(ctx context.Context, name string, fsys fs.FS, path string) error {
	return r.load(ctx, name, path, func() ([]byte, error) {
		return r.codec.ReadFS(fsys, path)
	})
}

// LoadBytes decodes an in-memory source. hint names the format.
func (r *Registry) LoadBytes(ctx context.Context, name, hint string, data []byte) error {
	return r.load(ctx, name, hint, func() ([]byte, error) {
		return data, nil
	})
}

func (r *Registry) load(ctx context.Context, name, source string, read func() ([]byte, error)) (err error) {
	_, span := r.tracer.Start(ctx, "registry.load", trace.WithAttributes(
		attribute.String("sound.name", name),
		attribute.String("sound.source", source),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := sound.ValidateName(name); err != nil {
		return err
	}

	data, err := read()
	if err != nil {
		return err
	}

	pcm, err := r.codec.Decode(source, data)
	if err != nil {
		return err
	}

	asset, err := sound.NewAsset(name, source, pcm)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.Int("sound.sample_rate", asset.SampleRate()),
		attribute.Int("sound.channels", asset.Channels()),
		attribute.Int("sound.frames", asset.Frames()),
	)

	r.publish(func(m snapshot) {
		if prev, ok := m[name]; ok {
			r.logger.Warn("Replacing registered sound",
				"name", name,
				"previous", prev.Source(),
				"source", source)
		}
		m[name] = asset
	})

	r.logger.Debug("Sound registered",
		"name", name,
		"source", source,
		"sample_rate", asset.SampleRate(),
		"channels", asset.Channels(),
		"duration", asset.Duration())
	return nil
}

// publish applies fn to a copy of the current snapshot and swaps it in.
func (r *Registry) publish(fn func(m snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := maps.Clone(*r.assets.Load())
	if next == nil {
		next = make(snapshot)
	}
	fn(next)
	r.assets.Store(&next)
}

// Get returns the cached asset. It never decodes or blocks.
func (r *Registry) Get(name string) (*sound.Asset, bool) {
	a, ok := (*r.assets.Load())[name]
	return a, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(*r.assets.Load()))
}

// Assets returns the registered assets sorted by name.
func (r *Registry) Assets() []*sound.Asset {
	snap := *r.assets.Load()
	out := make([]*sound.Asset, 0, len(snap))
	for _, name := range slices.Sorted(maps.Keys(snap)) {
		out = append(out, snap[name])
	}
	return out
}

// Len returns the number of registered sounds.
func (r *Registry) Len() int {
	return len(*r.assets.Load())
}

// Remove unregisters name. Sessions already playing it keep their
// reference and finish normally.
func (r *Registry) Remove(name string) bool {
	var removed bool
	r.publish(func(m snapshot) {
		if _, ok := m[name]; ok {
			delete(m, name)
			removed = true
		}
	})
	return removed
}

// Clear drops every registered sound.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	empty := make(snapshot)
	r.assets.Store(&empty)
}
