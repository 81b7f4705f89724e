package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/zulandar/gitdeploy/internal/config"
)

// Sink receives events.
type Sink interface {
	Notify(ctx context.Context, evt Event) error
}

// DefaultTimeout bounds each sink call when Options.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// Dispatcher fans events out to every sink, honouring per-family toggles.
// A nil Dispatcher drops every event.
type Dispatcher struct {
	sinks   []Sink
	events  config.EventToggles
	timeout time.Duration
	log     logr.Logger
	now     func() time.Time
}

// Options configures a Dispatcher.
type Options struct {
	Sinks   []Sink
	Events  config.EventToggles
	Timeout time.Duration
	Log     logr.Logger
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Dispatcher{
		sinks:   opts.Sinks,
		events:  opts.Events,
		timeout: opts.Timeout,
		log:     opts.Log.WithName("notify"),
		now:     time.Now,
	}
}

// Enabled reports whether events of type t are delivered.
func (d *Dispatcher) Enabled(t Type) bool {
	if d == nil {
		return false
	}
	switch t {
	case AfterDeploy:
		return config.Enabled(d.events.Deploy)
	case AfterUpdate:
		return config.Enabled(d.events.Update)
	case DeployFailed, UpdateFailed:
		return config.Enabled(d.events.Error)
	case AfterRollback:
		return config.Enabled(d.events.Rollback)
	}
	return true
}

// Dispatch delivers evt to every sink concurrently and waits for them.
// Sink errors are logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) {
	if !d.Enabled(evt.Type) || len(d.sinks) == 0 {
		return
	}
	if evt.At.IsZero() {
		evt.At = d.now()
	}
	var wg sync.WaitGroup
	for _, s := range d.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			if err := s.Notify(sctx, evt); err != nil {
				d.log.Error(err, "notification delivery failed", "event", evt.Type, "repo", evt.Repo())
			}
		}(s)
	}
	wg.Wait()
}

// Recorder is an in-memory Sink.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify records evt.
func (r *Recorder) Notify(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
