// Package encoder turns captured float PCM into a finished recording blob.
// Encoders are picked from an ordered preference list of MIME types with a
// WAV fallback.
package encoder

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	MimeOggOpus = "audio/ogg;codecs=opus"
	MimeWAV     = "audio/wav"

	// DefaultMimeType is used when nothing in the preference list works.
	DefaultMimeType = MimeWAV
)

var (
	ErrUnsupported = errors.New("encoding not supported")
	ErrFinalized   = errors.New("encoder already finalized")
)

// Encoder accumulates mono float PCM and produces an encoded blob. An
// Encoder is driven by a single goroutine.
type Encoder interface {
	Write(samples []float32) error
	Finalize() ([]byte, error)
	MimeType() string
}

// Params describes the PCM an encoder will receive.
type Params struct {
	SampleRate int
	Channels   int
	Bitrate    int // only used by lossy codecs
}

// Factory creates an encoder, or fails with ErrUnsupported when it cannot
// handle p.
type Factory func(p Params) (Encoder, error)

// Registry maps MIME types to encoder factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	log       *zap.SugaredLogger
}

// NewRegistry returns a registry with the built-in Ogg/Opus and WAV encoders.
func NewRegistry(log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Registry{factories: make(map[string]Factory), log: log}
	r.Register(MimeOggOpus, NewOpus)
	r.Register(MimeWAV, NewWAV)
	return r
}

// Register adds or replaces the factory for mime.
func (r *Registry) Register(mime string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(mime)] = f
}

// Supported reports whether a factory is registered for mime.
func (r *Registry) Supported(mime string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalize(mime)]
	return ok
}

// Negotiate returns an encoder for the first MIME type in prefs that is
// registered and accepts p. If none does, DefaultMimeType is tried.
func (r *Registry) Negotiate(prefs []string, p Params) (Encoder, error) {
	tried := make(map[string]bool, len(prefs)+1)
	for _, mime := range append(append([]string(nil), prefs...), DefaultMimeType) {
		key := normalize(mime)
		if tried[key] {
			continue
		}
		tried[key] = true

		r.mu.RLock()
		f, ok := r.factories[key]
		r.mu.RUnlock()
		if !ok {
			r.log.Debugw("encoding not registered", "mime", mime)
			continue
		}
		enc, err := f(p)
		if err != nil {
			r.log.Infow("encoding unavailable, trying next", "mime", mime, "error", err)
			continue
		}
		return enc, nil
	}
	return nil, fmt.Errorf("%w: none of %v", ErrUnsupported, prefs)
}

// normalize lowercases mime and drops whitespace so "audio/ogg; codecs=opus"
// and "audio/ogg;codecs=opus" match.
func normalize(mime string) string {
	return strings.ToLower(strings.Join(strings.Fields(mime), ""))
}
