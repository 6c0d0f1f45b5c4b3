// Package transporttest provides an in-memory domain.Transport for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/fink5984/telefeed/internal/domain"
)

// Call kinds recorded by Session.
const (
	CallForward = "forward"
	CallMedia   = "media"
	CallText    = "text"
)

// Call is one outbound call made on a Session.
type Call struct {
	Kind      string
	Dest      int64
	MessageID int    // forwarded message
	Text      string // text body or caption
	Media     *domain.Media
}

// Transport hands out scripted sessions. Sessions registered with Add are
// returned for their account; other accounts get a fresh authorized session.
// Connecting again after the session was disconnected yields a new one.
type Transport struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	connectErr map[string]error
	connects   map[string]int
	gates      map[string]chan struct{}
}

// New creates an empty Transport.
func New() *Transport {
	return &Transport{
		sessions:   make(map[string]*Session),
		connectErr: make(map[string]error),
		connects:   make(map[string]int),
		gates:      make(map[string]chan struct{}),
	}
}

// Add registers the session returned for account.
func (t *Transport) Add(account string, s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[account] = s
}

// FailConnect makes Connect fail for account with err.
func (t *Transport) FailConnect(account string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr[account] = err
}

// Session returns the session for account, creating it if needed.
func (t *Transport) Session(account string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionLocked(account)
}

func (t *Transport) sessionLocked(account string) *Session {
	s, ok := t.sessions[account]
	if !ok {
		s = NewSession()
		t.sessions[account] = s
	}
	return s
}

// Connects returns how many times Connect was called for account.
func (t *Transport) Connects(account string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects[account]
}

// HoldConnect blocks every Connect for account, regardless of its context,
// until the returned release is called. Release is idempotent.
func (t *Transport) HoldConnect(account string) (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.gates[account] = gate
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if t.gates[account] == gate {
				delete(t.gates, account)
			}
			t.mu.Unlock()
			close(gate)
		})
	}
}

func (t *Transport) Connect(ctx context.Context, account domain.Account) (domain.Session, error) {
	t.mu.Lock()
	t.connects[account.Name]++
	gate := t.gates[account.Name]
	t.mu.Unlock()
	if gate != nil {
		<-gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.connectErr[account.Name]; err != nil {
		return nil, err
	}
	s := t.sessionLocked(account.Name)
	if s.Disconnected() {
		s = NewSession()
		t.sessions[account.Name] = s
	}
	return s, nil
}

// Session is a scriptable in-memory domain.Session.
type Session struct {
	mu           sync.Mutex
	authorized   bool
	authErr      error
	subscribeErr error
	failDest     map[int64]error
	calls        []Call
	disconnected bool
	sendGate     chan struct{}

	messages  chan domain.Message
	closeOnce sync.Once
}

// NewSession returns an authorized session with a buffered inbound stream.
func NewSession() *Session {
	return &Session{
		authorized: true,
		failDest:   make(map[int64]error),
		messages:   make(chan domain.Message, 64),
	}
}

// SetAuthorized sets what IsAuthorized reports.
func (s *Session) SetAuthorized(ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized, s.authErr = ok, err
}

// FailSubscribe makes Subscribe fail with err.
func (s *Session) FailSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErr = err
}

// FailDest makes every send to dest fail with err. A nil err clears it.
func (s *Session) FailDest(dest int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failDest, dest)
		return
	}
	s.failDest[dest] = err
}

// Push queues an inbound message.
func (s *Session) Push(msg domain.Message) {
	s.messages <- msg
}

// CloseStream ends the inbound stream.
func (s *Session) CloseStream() {
	s.closeOnce.Do(func() { close(s.messages) })
}

// Calls returns a copy of the outbound calls made so far.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Disconnected reports whether Disconnect was called.
func (s *Session) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

func (s *Session) IsAuthorized(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized, s.authErr
}

func (s *Session) Subscribe(ctx context.Context) (<-chan domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	if s.disconnected {
		return nil, errors.New("session disconnected")
	}
	return s.messages, nil
}

func (s *Session) Forward(ctx context.Context, dest int64, msg domain.Message) error {
	return s.record(Call{Kind: CallForward, Dest: dest, MessageID: msg.MessageID, Text: msg.Text, Media: msg.Media})
}

func (s *Session) SendMedia(ctx context.Context, dest int64, media domain.Media, caption string) error {
	return s.record(Call{Kind: CallMedia, Dest: dest, Text: caption, Media: &media})
}

func (s *Session) SendText(ctx context.Context, dest int64, text string) error {
	return s.record(Call{Kind: CallText, Dest: dest, Text: text})
}

// HoldSends makes every outbound call block, after it is recorded, until the
// returned release is called. Release is idempotent.
func (s *Session) HoldSends() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.sendGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.sendGate == gate {
				s.sendGate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *Session) record(c Call) error {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	err := s.failDest[c.Dest]
	gate := s.sendGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
	return nil
}
