// Package broker owns the client-side replanning state machine: it
// caches one action chunk, dispenses actions one per tick, and fetches
// a fresh chunk every open-loop horizon. It is single-threaded by
// construction and owned exclusively by the control loop.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/pipeline"
)

// State is the broker's replanning phase.
type State int

const (
	StateIdle State = iota
	StateAwaitingChunk
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingChunk:
		return "AWAITING_CHUNK"
	case StateExecuting:
		return "EXECUTING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// BoundsError reports a dispense past the cached chunk's horizon. It
// signals a configuration bug (open-loop horizon longer than the chunk)
// and is never swallowed.
type BoundsError struct {
	Index   int
	Horizon int
}

func (e BoundsError) Error() string {
	return fmt.Sprintf("broker: dispense index %d past chunk horizon %d", e.Index, e.Horizon)
}

var (
	ErrSourceRequired = errors.New("broker: chunk source required")
	// ErrFetchFailed wraps any replanning failure; the broker has
	// discarded its cache and the caller must reset before resuming.
	ErrFetchFailed = errors.New("broker: chunk fetch failed")
)

// ChunkSource produces embodiment-space action chunks from raw
// observations. The remote implementation runs the transform pipeline
// around a policy client.
type ChunkSource interface {
	Fetch(ctx context.Context, raw pipeline.Raw) (canonical.ActionChunk, error)
}

// Config tunes the replanning cadence.
type Config struct {
	// OpenLoopHorizon is how many actions to dispense from a chunk
	// before requesting a new one. Must not exceed the chunk length.
	OpenLoopHorizon int
	// RequestTimeout bounds one replanning exchange. Zero means the
	// fetch is bounded only by the caller's context.
	RequestTimeout time.Duration
	// LogCapacity bounds the frame ring. Zero picks the default.
	LogCapacity int
}

// Broker dispenses cached actions and replans at the open-loop horizon.
// Not safe for concurrent use; the control loop is its only caller.
type Broker struct {
	src   ChunkSource
	post  *PostProcessor
	cfg   Config
	state State

	chunk     canonical.ActionChunk
	dispensed int
	lastSafe  []float32
	tick      uint64
	frames    *FrameLog
}

func New(src ChunkSource, spec canonical.EmbodimentSpec, cfg Config) (*Broker, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if cfg.OpenLoopHorizon <= 0 {
		return nil, fmt.Errorf("broker: open-loop horizon must be positive, got %d", cfg.OpenLoopHorizon)
	}
	return &Broker{
		src:      src,
		post:     NewPostProcessor(spec),
		cfg:      cfg,
		state:    StateIdle,
		lastSafe: make([]float32, spec.ActionDim),
		frames:   NewFrameLog(cfg.LogCapacity),
	}, nil
}

func (b *Broker) State() State { return b.state }

// Dispensed reports how many actions of the cached chunk have been
// consumed since the last fetch.
func (b *Broker) Dispensed() int { return b.dispensed }

// Frames exposes the bounded dispense log.
func (b *Broker) Frames() *FrameLog { return b.frames }

// Step runs one control tick: replan if the cache is empty or the
// open-loop horizon is reached, then dispense the next post-processed
// action. On a failed fetch it returns the safe-stop action alongside
// the error; the caller must actuate it and reset the session before
// calling Step again.
func (b *Broker) Step(ctx context.Context, raw pipeline.Raw) ([]float32, error) {
	b.tick++

	if b.chunk == nil || b.dispensed >= b.cfg.OpenLoopHorizon {
		if err := b.fetch(ctx, raw); err != nil {
			return b.SafeStop(), err
		}
	}

	if b.dispensed >= len(b.chunk) {
		return nil, BoundsError{Index: b.dispensed, Horizon: len(b.chunk)}
	}

	action := b.post.Apply(b.chunk[b.dispensed])
	b.dispensed++
	b.state = StateExecuting
	b.lastSafe = action

	rec := FrameRecord{Tick: b.tick, Action: action, At: time.Now()}
	if state, ok := raw[pipeline.RawKeyState].([]float32); ok {
		rec.State = append([]float32(nil), state...)
	}
	b.frames.Append(rec)

	// The caller gets its own copy: an actuator that scribbles on the
	// action must not corrupt the safe-stop hold or the dispense log.
	out := make([]float32, len(action))
	copy(out, action)
	return out, nil
}

// fetch runs the replanning exchange as an uninterruptible critical
// section. The caller's cancellation is deferred across the network
// call and surfaced right after it completes, so a sent request is
// never left half-consumed.
func (b *Broker) fetch(ctx context.Context, raw pipeline.Raw) error {
	b.state = StateAwaitingChunk
	b.chunk = nil
	b.dispensed = 0

	fetchCtx := context.WithoutCancel(ctx)
	if b.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(fetchCtx, b.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	chunk, err := b.src.Fetch(fetchCtx, raw)
	if err != nil {
		b.state = StateIdle
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if cerr := ctx.Err(); cerr != nil {
		b.state = StateIdle
		return cerr
	}
	if len(chunk) == 0 {
		b.state = StateIdle
		return fmt.Errorf("%w: empty chunk", ErrFetchFailed)
	}
	if b.cfg.OpenLoopHorizon > len(chunk) {
		b.state = StateIdle
		return fmt.Errorf("%w: open-loop horizon %d exceeds chunk length %d",
			ErrFetchFailed, b.cfg.OpenLoopHorizon, len(chunk))
	}

	b.chunk = chunk
	b.state = StateExecuting
	log.Debug().
		Int("chunk_len", len(chunk)).
		Dur("fetch", time.Since(start)).
		Msg("chunk fetched")
	return nil
}

// SafeStop returns the hold action: the last dispensed post-processed
// action, or zeros before any dispense.
func (b *Broker) SafeStop() []float32 {
	out := make([]float32, len(b.lastSafe))
	copy(out, b.lastSafe)
	return out
}

// Reset discards the cached chunk after the caller re-establishes the
// session.
func (b *Broker) Reset() {
	b.chunk = nil
	b.dispensed = 0
	b.state = StateIdle
}
