package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/botvisor/internal/metrics"
)

const (
	DefaultBuffer      = 256
	DefaultSendTimeout = 5 * time.Second
)

// Recorder fans events out to its sinks from one background goroutine so
// that a slow sink never delays a start or an exit. When the buffer is full
// the event is dropped and counted.
type Recorder struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.events = make(chan Event, n)
		}
	}
}

func WithSendTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRecorder starts the dispatch goroutine. A Recorder without sinks is
// valid and discards everything.
func NewRecorder(sinks []Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sinks:   append([]Sink(nil), sinks...),
		log:     slog.Default(),
		timeout: DefaultSendTimeout,
		events:  make(chan Event, DefaultBuffer),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	go r.run()
	return r
}

// Record queues e without blocking.
func (r *Recorder) Record(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- e:
	default:
		metrics.IncHistoryDropped()
		r.log.Warn("history buffer full, event dropped", "bot", e.Bot, "type", string(e.Type))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.events {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := s.Send(ctx, e); err != nil {
				metrics.IncHistoryError()
				r.log.Warn("history send failed", "bot", e.Bot, "type", string(e.Type), "error", err)
			}
			cancel()
		}
	}
}

// Close stops accepting events, delivers the queued ones until ctx is done
// and closes every sink.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.events)
		r.mu.Unlock()
		select {
		case <-r.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		for _, s := range r.sinks {
			err = errors.Join(err, s.Close())
		}
	})
	return err
}
