package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fink5984/telefeed/internal/domain"
	"github.com/fink5984/telefeed/internal/routes"
	"github.com/fink5984/telefeed/internal/rules"
	"github.com/fink5984/telefeed/internal/transporttest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	worker    *Worker
	transport *transporttest.Transport
	session   *transporttest.Session
	store     *routes.Store
	path      string
}

func newHarness(t *testing.T, routesYAML string, mutate func(*Config)) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.yaml")
	if routesYAML != "" {
		require.NoError(t, os.WriteFile(path, []byte(routesYAML), 0o644))
	}

	store := routes.NewStore()
	sched := routes.NewScheduler(routes.SchedulerConfig{
		Defaults: rules.Defaults{Mode: rules.ModeForward},
		Logger:   quietLogger(),
	})
	sched.Track("alpha", path, store)

	tr := transporttest.New()
	cfg := Config{
		Account: domain.Account{
			Name:       "alpha",
			Enabled:    true,
			RoutesFile: path,
			Credential: domain.Credential{BotToken: "123:abc"},
		},
		Transport: tr,
		Store:     store,
		Reloader:  sched,
		Commands:  true,
		Logger:    quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &harness{
		worker:    New(cfg),
		transport: tr,
		session:   tr.Session("alpha"),
		store:     store,
		path:      path,
	}
}

// start runs the worker in the background and waits until it is running.
func (h *harness) start(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()
	require.Eventually(t, func() bool {
		return h.worker.Status().State == StateRunning
	}, 2*time.Second, 5*time.Millisecond)
	return cancel, done
}

func waitCalls(t *testing.T, s *transporttest.Session, n int) []transporttest.Call {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Calls()) >= n }, 2*time.Second, 5*time.Millisecond)
	return s.Calls()
}

const scenarioRoutes = `
routes:
  - sources: [100]
    dests: [200, 300]
    mode: FORWARD
    filters: {min_length: 5}
`

func TestWorker_RoutesMatchingMessages(t *testing.T) {
	h := newHarness(t, scenarioRoutes, nil)
	cancel, done := h.start(t)
	defer cancel()

	require.Len(t, h.store.Current().Rules, 1, "initial routes loaded before running")

	h.session.Push(domain.Message{ChatID: 100, MessageID: 1, Text: "hi"})
	h.session.Push(domain.Message{ChatID: 100, MessageID: 2, Text: "hello world"})

	calls := waitCalls(t, h.session, 2)
	assert.Equal(t, transporttest.CallForward, calls[0].Kind)
	assert.Equal(t, int64(200), calls[0].Dest)
	assert.Equal(t, 2, calls[0].MessageID)
	assert.Equal(t, int64(300), calls[1].Dest)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, StateStopped, h.worker.Status().State)
	assert.True(t, h.session.Disconnected())
}

func TestWorker_NoUsableCredential(t *testing.T) {
	h := newHarness(t, "", func(c *Config) {
		c.Account.Credential = domain.Credential{APIID: 1, APIHash: "x", Phone: "+1"}
	})

	err := h.worker.Run(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAuth(err))
	assert.ErrorIs(t, err, domain.ErrNeedsManualAuth)
	assert.Equal(t, StateFailed, h.worker.Status().State)
	assert.Zero(t, h.transport.Connects("alpha"))
}

func TestWorker_NotAuthorized(t *testing.T) {
	h := newHarness(t, "", nil)
	h.session.SetAuthorized(false, nil)

	err := h.worker.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrNeedsManualAuth)
	st := h.worker.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, err, st.Err)
	assert.True(t, h.session.Disconnected())
}

func TestWorker_ConnectFailure(t *testing.T) {
	h := newHarness(t, "", nil)
	h.transport.FailConnect("alpha", domain.AuthError(errors.New("401 Unauthorized"), "bot login"))

	err := h.worker.Run(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAuth(err))
	assert.Equal(t, StateFailed, h.worker.Status().State)
}

func TestWorker_StreamClosedFails(t *testing.T) {
	h := newHarness(t, scenarioRoutes, nil)
	cancel, done := h.start(t)
	defer cancel()

	h.session.CloseStream()
	err := <-done
	assert.ErrorIs(t, err, domain.ErrStreamClosed)
	assert.Equal(t, StateFailed, h.worker.Status().State)
}

func TestWorker_MalformedInitialRoutesStillRuns(t *testing.T) {
	h := newHarness(t, "routes: [\n", nil)
	cancel, done := h.start(t)
	defer cancel()

	assert.Empty(t, h.store.Current().Rules)
	cancel()
	assert.NoError(t, <-done)
}

func TestWorker_IDCommand(t *testing.T) {
	h := newHarness(t, `
routes:
  - sources: [100]
    dests: [200]
`, nil)
	cancel, _ := h.start(t)
	defer cancel()

	h.session.Push(domain.Message{ChatID: 100, SenderID: 9, Text: "/id"})
	calls := waitCalls(t, h.session, 1)
	assert.Equal(t, transporttest.CallText, calls[0].Kind)
	assert.Equal(t, int64(100), calls[0].Dest)
	assert.Equal(t, "chat id: 100", calls[0].Text)

	// commands are not routed
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.session.Calls(), 1)
}

func TestWorker_ReloadCommand(t *testing.T) {
	h := newHarness(t, `
routes:
  - sources: [100]
    dests: [200]
`, func(c *Config) { c.OwnerID = 42 })
	cancel, _ := h.start(t)
	defer cancel()

	// not the owner: ignored silently
	h.session.Push(domain.Message{ChatID: 5, SenderID: 7, Text: "/reload"})
	h.session.Push(domain.Message{ChatID: 5, SenderID: 42, Text: "/reload@relaybot"})
	calls := waitCalls(t, h.session, 1)
	assert.Equal(t, "routes unchanged", calls[0].Text)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(h.path, []byte("routes:\n  - sources: [100]\n    dests: [200, 201]\n"), 0o644))
	require.NoError(t, os.Chtimes(h.path, future, future))

	h.session.Push(domain.Message{ChatID: 5, SenderID: 42, Text: "/reload"})
	calls = waitCalls(t, h.session, 2)
	assert.Equal(t, "routes reloaded", calls[1].Text)
	assert.Equal(t, []int64{200, 201}, h.store.Current().Rules[0].Destinations)
}

func TestWorker_CommandsDisabledAreRouted(t *testing.T) {
	h := newHarness(t, `
routes:
  - sources: [100]
    dests: [200]
`, func(c *Config) { c.Commands = false })
	cancel, _ := h.start(t)
	defer cancel()

	h.session.Push(domain.Message{ChatID: 100, Text: "/id"})
	calls := waitCalls(t, h.session, 1)
	assert.Equal(t, transporttest.CallForward, calls[0].Kind)
	assert.Equal(t, int64(200), calls[0].Dest)
}

func TestWorker_TransportFailureDoesNotStopLoop(t *testing.T) {
	h := newHarness(t, `
routes:
  - sources: [100]
    dests: [200, 300]
`, nil)
	h.session.FailDest(200, errors.New("forbidden"))
	cancel, _ := h.start(t)
	defer cancel()

	h.session.Push(domain.Message{ChatID: 100, MessageID: 1, Text: "one"})
	h.session.Push(domain.Message{ChatID: 100, MessageID: 2, Text: "two"})
	calls := waitCalls(t, h.session, 4)
	assert.Equal(t, StateRunning, h.worker.Status().State)
	assert.Equal(t, 2, calls[3].MessageID)
}

func TestCommandOf(t *testing.T) {
	assert.Equal(t, "id", commandOf("/id"))
	assert.Equal(t, "reload", commandOf("  /Reload@bot now"))
	assert.Equal(t, "", commandOf("hello /id"))
	assert.Equal(t, "", commandOf(""))
}

func TestWorker_StopDuringDeliveryFinishesMessage(t *testing.T) {
	h := newHarness(t, scenarioRoutes, nil)
	cancel, done := h.start(t)
	defer cancel()
	release := h.session.HoldSends()
	defer release()

	h.session.Push(domain.Message{ChatID: 100, MessageID: 7, Text: "hello world"})
	waitCalls(t, h.session, 1)
	cancel()

	select {
	case err := <-done:
		t.Fatalf("worker returned mid-delivery: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	release()
	require.NoError(t, <-done)
	calls := h.session.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, int64(200), calls[0].Dest)
	assert.Equal(t, int64(300), calls[1].Dest)
	assert.Equal(t, StateStopped, h.worker.Status().State)
}

type connectFunc func(ctx context.Context, account domain.Account) (domain.Session, error)

func (f connectFunc) Connect(ctx context.Context, account domain.Account) (domain.Session, error) {
	return f(ctx, account)
}

// cancelingSession cancels the worker's context from inside one call and
// fails that call with the context error.
type cancelingSession struct {
	domain.Session
	in     string
	cancel context.CancelFunc
}

func (s *cancelingSession) IsAuthorized(ctx context.Context) (bool, error) {
	if s.in == "authorize" {
		s.cancel()
		return false, ctx.Err()
	}
	return s.Session.IsAuthorized(ctx)
}

func (s *cancelingSession) Subscribe(ctx context.Context) (<-chan domain.Message, error) {
	if s.in == "subscribe" {
		s.cancel()
		return nil, ctx.Err()
	}
	return s.Session.Subscribe(ctx)
}

func TestWorker_StopDuringStartupIsNotFailure(t *testing.T) {
	for _, in := range []string{"authorize", "subscribe"} {
		t.Run(in, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h := newHarness(t, scenarioRoutes, func(c *Config) {
				inner := c.Transport
				c.Transport = connectFunc(func(ctx context.Context, acc domain.Account) (domain.Session, error) {
					sess, err := inner.Connect(ctx, acc)
					if err != nil {
						return nil, err
					}
					return &cancelingSession{Session: sess, in: in, cancel: cancel}, nil
				})
			})

			err := h.worker.Run(ctx)
			assert.NoError(t, err)
			st := h.worker.Status()
			assert.Equal(t, StateStopped, st.State)
			assert.NoError(t, st.Err)
			assert.True(t, h.session.Disconnected())
		})
	}
}
