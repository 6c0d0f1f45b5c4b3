// Package orchestrator runs one worker per enabled account and keeps the set
// of workers in line with the account registry.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fink5984/telefeed/internal/bus"
	"github.com/fink5984/telefeed/internal/delivery"
	"github.com/fink5984/telefeed/internal/domain"
	"github.com/fink5984/telefeed/internal/routes"
	"github.com/fink5984/telefeed/internal/worker"
)

// DefaultSyncInterval is how often the registry is re-read.
const DefaultSyncInterval = 30 * time.Second

// ErrNotRunning is returned by Sync before Run was called.
var ErrNotRunning = errors.New("orchestrator not running")

// Registry lists the configured accounts. The orchestrator never writes to it.
type Registry interface {
	List(ctx context.Context) ([]domain.Account, error)
}

// Config configures an Orchestrator.
type Config struct {
	Registry     Registry
	Transport    domain.Transport
	Scheduler    *routes.Scheduler
	Engine       *delivery.Engine
	SyncInterval time.Duration

	Commands bool
	OwnerID  int64

	Events *bus.EventBus
	Logger *slog.Logger
}

// Orchestrator starts and stops account workers and owns the reload scheduler.
type Orchestrator struct {
	registry  Registry
	transport domain.Transport
	scheduler *routes.Scheduler
	engine    *delivery.Engine
	interval  time.Duration
	commands  bool
	ownerID   int64
	events    *bus.EventBus
	logger    *slog.Logger

	mu      sync.Mutex
	base    context.Context // set by Run, parent of every worker context
	workers map[string]*handle
	pending map[string]*domain.Account // queued restarts; nil once no longer wanted
	wg      sync.WaitGroup
}

type handle struct {
	worker *worker.Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = routes.NewScheduler(routes.SchedulerConfig{Events: cfg.Events, Logger: cfg.Logger})
	}
	if cfg.Engine == nil {
		cfg.Engine = delivery.New(delivery.Config{Events: cfg.Events, Logger: cfg.Logger})
	}
	return &Orchestrator{
		registry:  cfg.Registry,
		transport: cfg.Transport,
		scheduler: cfg.Scheduler,
		engine:    cfg.Engine,
		interval:  cfg.SyncInterval,
		commands:  cfg.Commands,
		ownerID:   cfg.OwnerID,
		events:    cfg.Events,
		logger:    cfg.Logger,
		workers:   make(map[string]*handle),
		pending:   make(map[string]*domain.Account),
	}
}

// Run starts the reload scheduler and a worker for every enabled account,
// then reconciles with the registry every sync interval until ctx is
// cancelled. A registry that cannot be read at startup is fatal; later read
// failures keep the current workers.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.base = ctx
	o.mu.Unlock()

	if err := o.Sync(ctx); err != nil {
		return err
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		o.scheduler.Run(ctx)
	}()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.stopAll()
			<-schedDone
			o.logger.Info("orchestrator stopped")
			return nil
		case <-ticker.C:
			if err := o.Sync(ctx); err != nil {
				o.logger.Error("registry sync failed, keeping current workers", "err", err)
			}
		}
	}
}

// Sync reads the registry once and starts, stops or restarts workers to
// match it:
//   - enabled accounts without a worker are started
//   - workers of disabled or removed accounts are stopped
//   - workers whose registry entry changed are restarted, which is also how
//     a failed account gets another attempt
func (o *Orchestrator) Sync(ctx context.Context) error {
	accounts, err := o.registry.List(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]domain.Account, len(accounts))
	for _, acc := range accounts {
		if acc.Enabled {
			want[acc.Name] = acc
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.base == nil {
		return ErrNotRunning
	}
	if o.base.Err() != nil {
		return nil
	}

	for name, h := range o.workers {
		acc, ok := want[name]
		switch {
		case !ok:
			o.logger.Info("account disabled or removed, stopping worker", "account", name)
			o.detachLocked(name, h)
		case h.worker.Account() != acc:
			o.logger.Info("account changed, restarting worker", "account", name)
			o.detachLocked(name, h)
			o.pending[name] = nil
			o.wg.Add(1)
			go o.restart(h, name)
		}
	}

	// A queued restart starts whatever the registry wants once the old
	// worker is gone, or nothing.
	for name := range o.pending {
		if acc, ok := want[name]; ok {
			o.pending[name] = &acc
		} else {
			o.pending[name] = nil
		}
	}

	for name, acc := range want {
		_, running := o.workers[name]
		_, queued := o.pending[name]
		if running || queued {
			continue
		}
		o.startLocked(acc)
	}
	return nil
}

// restart starts the latest wanted entry for name once the previous worker
// for it has exited.
func (o *Orchestrator) restart(old *handle, name string) {
	defer o.wg.Done()
	<-old.done

	o.mu.Lock()
	defer o.mu.Unlock()
	acc := o.pending[name]
	delete(o.pending, name)
	if acc == nil || o.base.Err() != nil {
		return
	}
	if _, exists := o.workers[name]; !exists {
		o.startLocked(*acc)
	}
}

func (o *Orchestrator) startLocked(acc domain.Account) {
	store := routes.NewStore()
	o.scheduler.Track(acc.Name, acc.RoutesFile, store)

	w := worker.New(worker.Config{
		Account:   acc,
		Transport: o.transport,
		Store:     store,
		Reloader:  o.scheduler,
		Engine:    o.engine,
		Commands:  o.commands,
		OwnerID:   o.ownerID,
		Events:    o.events,
		Logger:    o.logger,
	})
	ctx, cancel := context.WithCancel(o.base)
	h := &handle{worker: w, cancel: cancel, done: make(chan struct{})}
	o.workers[acc.Name] = h

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(h.done)
		if err := w.Run(ctx); err != nil {
			o.logger.Error("worker exited", "account", acc.Name, "err", err)
		}
	}()
}

// detachLocked cancels h and forgets it. The route store is released once the
// scheduler stops tracking it.
func (o *Orchestrator) detachLocked(name string, h *handle) {
	h.cancel()
	delete(o.workers, name)
	o.scheduler.Untrack(name)
}

// StopAccount stops the worker of name and waits for it to finish the message
// it is processing. It reports whether a worker was running.
func (o *Orchestrator) StopAccount(name string) bool {
	o.mu.Lock()
	h, ok := o.workers[name]
	if ok {
		o.detachLocked(name, h)
	}
	o.mu.Unlock()
	if ok {
		<-h.done
	}
	return ok
}

func (o *Orchestrator) stopAll() {
	o.mu.Lock()
	for name, h := range o.workers {
		o.detachLocked(name, h)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// AccountStatus is the status of one account's worker.
type AccountStatus struct {
	Account string    `json:"account"`
	State   string    `json:"state"`
	Error   string    `json:"error,omitempty"`
	Since   time.Time `json:"since"`
}

// Status returns the status of every known worker, sorted by account name.
func (o *Orchestrator) Status() []AccountStatus {
	o.mu.Lock()
	handles := make([]*handle, 0, len(o.workers))
	for _, h := range o.workers {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	out := make([]AccountStatus, 0, len(handles))
	for _, h := range handles {
		st := h.worker.Status()
		as := AccountStatus{Account: h.worker.Name(), State: string(st.State), Since: st.Since}
		if st.Err != nil {
			as.Error = st.Err.Error()
		}
		out = append(out, as)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Running returns the names of accounts whose worker is in the running state.
func (o *Orchestrator) Running() []string {
	var names []string
	for _, st := range o.Status() {
		if st.State == string(worker.StateRunning) {
			names = append(names, st.Account)
		}
	}
	return names
}
