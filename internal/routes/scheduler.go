package routes

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/fink5984/telefeed/internal/bus"
	"github.com/fink5984/telefeed/internal/rules"
)

// DefaultInterval is the reload check period used when none is configured.
const DefaultInterval = 5 * time.Second

// SchedulerConfig configures the reload scheduler.
type SchedulerConfig struct {
	Interval time.Duration
	Defaults rules.Defaults // process-wide base under each file's defaults block
	Watch    bool           // also check on file system notifications
	Events   *bus.EventBus
	Logger   *slog.Logger
}

// Scheduler periodically checks the rule file of every tracked account and
// swaps a fresh snapshot into its Store when the file changed. It is the only
// writer of the stores it tracks.
type Scheduler struct {
	interval time.Duration
	defaults rules.Defaults
	watch    bool
	events   *bus.EventBus
	logger   *slog.Logger

	mu      sync.RWMutex
	tracked map[string]*tracked
	fw      *fsnotify.Watcher
	dirs    map[string]bool
}

type tracked struct {
	mu     sync.Mutex // serializes checks of one account
	path   string
	store  *Store
	failed *rules.Marker // version that last failed to load
}

// NewScheduler creates a scheduler with no tracked accounts.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		interval: cfg.Interval,
		defaults: cfg.Defaults,
		watch:    cfg.Watch,
		events:   cfg.Events,
		logger:   cfg.Logger,
		tracked:  make(map[string]*tracked),
		dirs:     make(map[string]bool),
	}
}

// Track starts checking the rule file at path on behalf of account, writing
// into store. Tracking an account again replaces its path and store.
func (s *Scheduler) Track(account, path string, store *Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[account] = &tracked{path: path, store: store}
	s.watchDirLocked(path)
}

// Untrack stops checking account. Its store keeps the last snapshot.
func (s *Scheduler) Untrack(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[account]
	if !ok {
		return
	}
	delete(s.tracked, account)
	s.unwatchDirLocked(t.path)
}

// Accounts returns the tracked account names, sorted.
func (s *Scheduler) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tracked))
	for name := range s.tracked {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) lookup(account string) (*tracked, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracked[account]
	return t, ok
}

// CheckAll runs one check pass over every tracked account.
func (s *Scheduler) CheckAll(ctx context.Context) {
	for _, name := range s.Accounts() {
		if ctx.Err() != nil {
			return
		}
		if t, ok := s.lookup(name); ok {
			s.check(name, t, false)
		}
	}
}

// Check reloads account's rule file if its marker changed since the active
// snapshot was loaded. It reports whether a new snapshot was swapped in.
func (s *Scheduler) Check(account string) (bool, error) {
	t, ok := s.lookup(account)
	if !ok {
		return false, nil
	}
	return s.check(account, t, false)
}

// Refresh loads account's rule file unconditionally. The store still only
// changes when the loaded marker differs from the active one.
func (s *Scheduler) Refresh(account string) (bool, error) {
	t, ok := s.lookup(account)
	if !ok {
		return false, nil
	}
	return s.check(account, t, true)
}

func (s *Scheduler) check(account string, t *tracked, force bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	marker, err := rules.Stat(t.path)
	if err != nil {
		s.logger.Error("cannot stat rule file", "account", account, "path", t.path, "err", err)
		return false, err
	}
	if !force {
		if marker == t.store.Marker() {
			return false, nil
		}
		if t.failed != nil && *t.failed == marker {
			return false, nil
		}
	}

	snap, err := rules.Load(t.path, s.defaults)
	if err != nil {
		t.failed = &marker
		s.logger.Error("rule file rejected, keeping active routes",
			"account", account,
			"path", t.path,
			"err", err,
		)
		s.events.Emit(bus.Event{
			Type:    bus.EventRoutesFailed,
			Account: account,
			Payload: map[string]any{"path": t.path, "err": err.Error()},
		})
		return false, err
	}
	t.failed = nil

	for _, w := range snap.Warnings {
		s.logger.Warn("rule validation warning", "account", account, "rule", w.RuleIndex, "warning", w.Message)
	}

	if !t.store.TrySwap(snap) {
		s.logger.Debug("routes unchanged", "account", account)
		return false, nil
	}
	s.logger.Info("routes reloaded", "account", account, "rules", len(snap.Rules), "path", t.path)
	s.events.Emit(bus.Event{
		Type:    bus.EventRoutesReloaded,
		Account: account,
		Payload: map[string]any{"path": t.path, "rules": len(snap.Rules)},
	})
	return true, nil
}

// Run checks all tracked accounts every interval until ctx is cancelled. A
// pass still running when the next one is due is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() { s.CheckAll(ctx) }))

	if s.watch {
		if err := s.startWatcher(ctx); err != nil {
			s.logger.Warn("rule file watching unavailable, relying on polling", "err", err)
		}
	}

	c.Start()
	s.logger.Info("route reload scheduler started", "interval", s.interval, "watch", s.watch)

	<-ctx.Done()
	<-c.Stop().Done()
	s.stopWatcher()
	s.logger.Info("route reload scheduler stopped")
	return nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
