// ABOUTME: Event fan-out from the primary session to every registered application
// ABOUTME: Each application owns an unbounded queue and one worker so a slow or failing app never stalls the others

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/onebot-gateway/internal/dedupe"
	"github.com/2389/onebot-gateway/internal/fifo"
	"github.com/2389/onebot-gateway/internal/protocol"
)

const dedupeCapacity = 8192

// Application is a consumer of gateway events. Calls into one application
// are serialized; different applications run concurrently.
type Application interface {
	Name() string
	// OnLoad runs once, after the first successful handshake.
	OnLoad(ctx context.Context) error
	OnEvent(ctx context.Context, ev *protocol.Event) error
}

// Config tunes the dispatcher.
type Config struct {
	// DedupeTTL enables duplicate message suppression: a message event whose
	// id was seen within the window is not delivered again. Zero disables it.
	DedupeTTL time.Duration
}

// AppStats is a per-application counter snapshot.
type AppStats struct {
	Name    string `json:"name"`
	Queued  int    `json:"queued"`
	Handled int64  `json:"handled"`
	Failed  int64  `json:"failed"`
}

type job struct {
	load  bool
	event *protocol.Event
}

type worker struct {
	app     Application
	queue   *fifo.Queue[job]
	logger  *slog.Logger
	handled atomic.Int64
	failed  atomic.Int64
}

// Dispatcher fans events out to a fixed set of applications.
type Dispatcher struct {
	workers []*worker
	seen    *dedupe.Window
	logger  *slog.Logger
	running atomic.Bool
}

// New creates a dispatcher for apps. The registry cannot change afterwards.
func New(cfg Config, logger *slog.Logger, apps ...Application) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("component", "dispatch")
	d := &Dispatcher{logger: logger}
	if cfg.DedupeTTL > 0 {
		d.seen = dedupe.NewWindow(cfg.DedupeTTL, dedupeCapacity)
	}
	for _, app := range apps {
		d.workers = append(d.workers, &worker{
			app:    app,
			queue:  fifo.New[job](),
			logger: logger.With("app", app.Name()),
		})
	}
	return d
}

// Run starts one worker per application and blocks until ctx is cancelled
// and every worker has returned. Jobs still queued at cancellation are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already running")
	}

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	d.logger.Info("dispatcher started", "apps", len(d.workers))

	wg.Wait()
	d.logger.Info("dispatcher stopped")
	return ctx.Err()
}

// Dispatch queues ev for every application without blocking. When dedupe is
// enabled, redelivered message events are dropped before fan-out.
func (d *Dispatcher) Dispatch(ev *protocol.Event) {
	if ev == nil {
		return
	}
	if d.seen != nil {
		if key, ok := dedupeKey(ev); ok && d.seen.Observe(key) {
			d.logger.Debug("dropping duplicate message event", "key", key)
			return
		}
	}
	d.enqueue(job{event: ev})
}

// Load queues an OnLoad call for every application.
func (d *Dispatcher) Load() {
	d.enqueue(job{load: true})
}

func (d *Dispatcher) enqueue(j job) {
	for _, w := range d.workers {
		w.queue.Push(j)
	}
}

// Stats returns counters for each application in registration order.
func (d *Dispatcher) Stats() []AppStats {
	out := make([]AppStats, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, AppStats{
			Name:    w.app.Name(),
			Queued:  w.queue.Len(),
			Handled: w.handled.Load(),
			Failed:  w.failed.Load(),
		})
	}
	return out
}

func (w *worker) run(ctx context.Context) {
	for ctx.Err() == nil {
		j, ok := w.queue.Pop(ctx)
		if !ok {
			return
		}
		w.handle(ctx, j)
	}
}

// handle runs one job. Errors and panics stay inside this application.
func (w *worker) handle(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(1)
			w.logger.Error("application panicked",
				"job", j.describe(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	var err error
	if j.load {
		err = w.app.OnLoad(ctx)
	} else {
		err = w.app.OnEvent(ctx, j.event)
	}
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("application failed", "job", j.describe(), "error", err)
		return
	}
	w.handled.Add(1)
}

func (j job) describe() string {
	if j.load {
		return "load"
	}
	return j.event.Kind()
}

func dedupeKey(ev *protocol.Event) (string, bool) {
	if ev == nil || ev.Message == nil || ev.Message.MessageID == 0 {
		return "", false
	}
	return fmt.Sprintf("%s:%d:%d", ev.PostType, ev.SelfID, ev.Message.MessageID), true
}
