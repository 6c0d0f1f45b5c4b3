// Package worker runs the message loop of a single account.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fink5984/telefeed/internal/bus"
	"github.com/fink5984/telefeed/internal/delivery"
	"github.com/fink5984/telefeed/internal/domain"
	"github.com/fink5984/telefeed/internal/routes"
	"github.com/fink5984/telefeed/internal/rules"
)

// State is the lifecycle state of a worker.
type State string

const (
	StateStopped     State = "stopped"
	StateConnecting  State = "connecting"
	StateAuthorizing State = "authorizing"
	StateRunning     State = "running"
	StateFailed      State = "failed"
)

// Status is a point-in-time view of a worker.
type Status struct {
	State State
	Err   error // set in StateFailed
	Since time.Time
}

// Reloader refreshes the route store of an account on demand.
type Reloader interface {
	Refresh(account string) (bool, error)
}

// Config configures a Worker.
type Config struct {
	Account   domain.Account
	Transport domain.Transport
	Store     *routes.Store // read-only for the worker
	Reloader  Reloader
	Engine    *delivery.Engine

	Commands bool  // answer /id and /reload
	OwnerID  int64 // only this sender may /reload; 0 allows anyone

	Events *bus.EventBus
	Logger *slog.Logger
}

// Worker owns one account's transport session. It matches every inbound
// message against the account's route store and hands matches to the
// delivery engine.
type Worker struct {
	account   domain.Account
	transport domain.Transport
	store     *routes.Store
	reloader  Reloader
	engine    *delivery.Engine
	commands  bool
	ownerID   int64
	events    *bus.EventBus
	logger    *slog.Logger

	mu     sync.RWMutex
	status Status
}

// New creates a stopped worker.
func New(cfg Config) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Engine == nil {
		cfg.Engine = delivery.New(delivery.Config{Events: cfg.Events, Logger: cfg.Logger})
	}
	return &Worker{
		account:   cfg.Account,
		transport: cfg.Transport,
		store:     cfg.Store,
		reloader:  cfg.Reloader,
		engine:    cfg.Engine,
		commands:  cfg.Commands,
		ownerID:   cfg.OwnerID,
		events:    cfg.Events,
		logger:    cfg.Logger.With("account", cfg.Account.Name),
		status:    Status{State: StateStopped, Since: time.Now()},
	}
}

// Name returns the account name.
func (w *Worker) Name() string { return w.account.Name }

// Account returns the registry entry the worker was started with.
func (w *Worker) Account() domain.Account { return w.account }

// Status returns the current lifecycle status.
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Worker) setState(s State, err error) {
	w.mu.Lock()
	prev := w.status.State
	w.status = Status{State: s, Err: err, Since: time.Now()}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("worker state changed", "from", prev, "to", s, "err", err)
	} else {
		w.logger.Info("worker state changed", "from", prev, "to", s)
	}

	payload := map[string]any{"from": string(prev), "to": string(s)}
	if err != nil {
		payload["err"] = err.Error()
	}
	w.events.Emit(bus.Event{Type: bus.EventWorkerState, Account: w.account.Name, Payload: payload})
}

// Run connects, authorizes and processes messages until ctx is cancelled or
// the account fails. It returns nil after a requested stop and the failure
// otherwise. A message already pulled from the stream is fully delivered
// before a stop is honored.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
			w.setState(StateFailed, err)
		}
	}()

	if !w.account.Credential.Usable() {
		return w.fail(domain.AuthError(domain.ErrNeedsManualAuth, "account %s has no bot token or session", w.account.Name))
	}

	w.setState(StateConnecting, nil)
	sess, err := w.transport.Connect(ctx, w.account)
	if err != nil {
		if ctx.Err() != nil {
			return w.stopped()
		}
		return w.fail(fmt.Errorf("connect: %w", err))
	}
	defer func() {
		if derr := sess.Disconnect(); derr != nil {
			w.logger.Warn("disconnect failed", "err", derr)
		}
	}()

	w.setState(StateAuthorizing, nil)
	ok, err := sess.IsAuthorized(ctx)
	if ctx.Err() != nil {
		return w.stopped()
	}
	if err != nil {
		return w.fail(domain.AuthError(err, "authorization check for %s", w.account.Name))
	}
	if !ok {
		return w.fail(domain.AuthError(domain.ErrNeedsManualAuth, "account %s", w.account.Name))
	}

	if _, err := w.reloader.Refresh(w.account.Name); err != nil {
		w.logger.Warn("initial routes not loaded, starting with current routes", "err", err)
	}

	stream, err := sess.Subscribe(ctx)
	if ctx.Err() != nil {
		return w.stopped()
	}
	if err != nil {
		return w.fail(fmt.Errorf("subscribe: %w", err))
	}

	w.setState(StateRunning, nil)
	for {
		select {
		case <-ctx.Done():
			return w.stopped()
		case msg, ok := <-stream:
			if !ok {
				return w.fail(domain.ErrStreamClosed)
			}
			w.handle(context.WithoutCancel(ctx), sess, msg)
		}
	}
}

// stopped records a requested stop. A stop is never a failure, whatever the
// interrupted call returned.
func (w *Worker) stopped() error {
	w.setState(StateStopped, nil)
	return nil
}

func (w *Worker) fail(err error) error {
	w.setState(StateFailed, err)
	return err
}

func (w *Worker) handle(ctx context.Context, sess domain.Session, msg domain.Message) {
	w.events.Emit(bus.Event{
		Type:    bus.EventMessageReceived,
		Account: w.account.Name,
		Payload: map[string]any{"source": msg.ChatID, "message": msg.MessageID},
	})

	if w.commands && w.handleCommand(ctx, sess, msg) {
		return
	}

	matched := rules.Match(msg, w.store.Current())
	if len(matched) == 0 {
		w.logger.Debug("no route matched", "source", msg.ChatID, "message", msg.MessageID)
		return
	}
	for _, rule := range matched {
		w.engine.Deliver(ctx, w.account.Name, sess, msg, rule)
	}
}

// handleCommand answers /id and /reload. It reports whether msg was a command
// and so must not be routed.
func (w *Worker) handleCommand(ctx context.Context, sess domain.Session, msg domain.Message) bool {
	cmd := commandOf(msg.Text)
	switch cmd {
	case "id":
		w.reply(ctx, sess, msg.ChatID, fmt.Sprintf("chat id: %d", msg.ChatID))
	case "reload":
		if w.ownerID != 0 && msg.SenderID != w.ownerID {
			w.logger.Warn("reload refused", "sender", msg.SenderID, "source", msg.ChatID)
			return true
		}
		changed, err := w.reloader.Refresh(w.account.Name)
		switch {
		case err != nil:
			w.reply(ctx, sess, msg.ChatID, "reload failed: "+err.Error())
		case changed:
			w.reply(ctx, sess, msg.ChatID, "routes reloaded")
		default:
			w.reply(ctx, sess, msg.ChatID, "routes unchanged")
		}
	default:
		return false
	}
	return true
}

func (w *Worker) reply(ctx context.Context, sess domain.Session, chatID int64, text string) {
	if err := sess.SendText(ctx, chatID, text); err != nil {
		w.logger.Warn("command reply failed", "source", chatID, "err", err)
	}
}

// commandOf returns the bot command name in text, without the leading slash
// and any @botname suffix, or "" when text is not a command.
func commandOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	name, _, _ := strings.Cut(fields[0][1:], "@")
	return strings.ToLower(name)
}
