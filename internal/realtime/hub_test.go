package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/taskpulse/taskpulse/backend/internal/metrics"
	"github.com/taskpulse/taskpulse/backend/internal/model/chat"
	"github.com/taskpulse/taskpulse/backend/internal/model/user"
)

type fakeConn struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (c *fakeConn) Send(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) of(typ string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

type fixture struct {
	hub      *Hub
	messages *chat.MemoryStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	users := user.NewMemoryStore(
		user.User{ID: "alice", Name: "Alice", Email: "alice@example.com"},
		user.User{ID: "bob", Name: "Bob", Email: "bob@example.com"},
		user.User{ID: "carol", Name: "Carol", Email: "carol@example.com"},
	)
	messages := chat.NewMemoryStore()
	return &fixture{hub: NewHub(users, messages, zaptest.NewLogger(t), opts...), messages: messages}
}

func (f *fixture) connect(t *testing.T) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s, err := f.hub.Connect(conn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s, conn
}

func (f *fixture) login(t *testing.T, identity string) (*Session, *fakeConn) {
	t.Helper()
	s, conn := f.connect(t)
	if err := f.hub.Authenticate(context.Background(), s, AuthenticatePayload{UserID: identity}); err != nil {
		t.Fatalf("authenticate %s: %v", identity, err)
	}
	return s, conn
}

func frame(t *testing.T, typ string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": typ, "data": data})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return raw
}

func expectCode(t *testing.T, err error, code Code) {
	t.Helper()
	if CodeOf(err) != code {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func TestAuthenticateBroadcastsOnlineToOthersOnly(t *testing.T) {
	f := newFixture(t)
	_, observer := f.connect(t)
	s, self := f.connect(t)

	if err := f.hub.Authenticate(context.Background(), s, AuthenticatePayload{UserID: "alice"}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if got := observer.of(EventUserOnline); len(got) != 1 || got[0].Data != "alice" {
		t.Fatalf("expected one userOnline(alice), got %+v", got)
	}
	if got := self.of(EventUserOnline); len(got) != 0 {
		t.Fatalf("expected no userOnline to the authenticating connection, got %+v", got)
	}
	if handle, ok := f.hub.Registry().Lookup("alice"); !ok || handle != s.Handle() {
		t.Fatalf("expected registry to point at the session")
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("expected authenticated state, got %s", s.State())
	}
}

func TestAuthenticateSecondConnectionIsNotAPresenceChange(t *testing.T) {
	f := newFixture(t)
	_, observer := f.connect(t)
	f.login(t, "alice")
	observer.reset()

	second, _ := f.login(t, "alice")

	if got := observer.of(EventUserOnline); len(got) != 0 {
		t.Fatalf("expected no second userOnline, got %+v", got)
	}
	if handle, _ := f.hub.Registry().Lookup("alice"); handle != second.Handle() {
		t.Fatalf("expected lookup to resolve to the newest connection")
	}
}

func TestAuthenticateUnknownIdentity(t *testing.T) {
	f := newFixture(t)
	_, observer := f.connect(t)
	s, _ := f.connect(t)

	err := f.hub.Authenticate(context.Background(), s, AuthenticatePayload{UserID: "mallory"})
	expectCode(t, err, CodeDirectoryLookupFailed)

	if s.State() != StateUnauthenticated {
		t.Fatalf("expected session to stay unauthenticated")
	}
	if f.hub.IsOnline("mallory") {
		t.Fatalf("expected no registry entry")
	}
	if got := observer.of(EventUserOnline); len(got) != 0 {
		t.Fatalf("expected no broadcast, got %+v", got)
	}
}

func TestReauthenticate(t *testing.T) {
	f := newFixture(t)
	s, _ := f.login(t, "alice")
	_, observer := f.connect(t)

	if err := f.hub.Authenticate(context.Background(), s, AuthenticatePayload{UserID: "alice"}); err != nil {
		t.Fatalf("expected repeated claim to succeed, got %v", err)
	}
	if got := observer.of(EventUserOnline); len(got) != 0 {
		t.Fatalf("expected repeated claim to stay silent, got %+v", got)
	}

	err := f.hub.Authenticate(context.Background(), s, AuthenticatePayload{UserID: "bob"})
	expectCode(t, err, CodeUnauthorized)
	if identity, _ := s.Identity(); identity != "alice" {
		t.Fatalf("expected identity to remain alice, got %s", identity)
	}
	if f.hub.IsOnline("bob") {
		t.Fatalf("expected bob to stay offline")
	}
}

func TestDisconnectBroadcastsOfflineOnLastConnection(t *testing.T) {
	f := newFixture(t)
	_, observer := f.connect(t)
	first, _ := f.login(t, "alice")
	second, _ := f.login(t, "alice")

	f.hub.Disconnect(first)
	if got := observer.of(EventUserOffline); len(got) != 0 {
		t.Fatalf("expected alice to stay online, got %+v", got)
	}
	if handle, _ := f.hub.Registry().Lookup("alice"); handle != second.Handle() {
		t.Fatalf("expected registry to keep the remaining connection")
	}

	f.hub.Disconnect(second)
	if got := observer.of(EventUserOffline); len(got) != 1 || got[0].Data != "alice" {
		t.Fatalf("expected one userOffline(alice), got %+v", got)
	}
	if f.hub.IsOnline("alice") {
		t.Fatalf("expected alice offline")
	}

	f.hub.Disconnect(second)
	if got := observer.of(EventUserOffline); len(got) != 1 {
		t.Fatalf("expected disconnect to be idempotent, got %+v", got)
	}
}

func TestDisconnectUnauthenticatedIsSilent(t *testing.T) {
	f := newFixture(t)
	_, observer := f.connect(t)
	s, _ := f.connect(t)

	f.hub.Disconnect(s)

	if got := observer.of(EventUserOffline); len(got) != 0 {
		t.Fatalf("expected no userOffline, got %+v", got)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", s.State())
	}
}

type gatedDirectory struct {
	user.Directory
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDirectory) FindByID(ctx context.Context, id string) (user.User, error) {
	close(d.entered)
	<-d.release
	return d.Directory.FindByID(ctx, id)
}

func TestDisconnectDuringAuthenticationLeavesNoTrace(t *testing.T) {
	users := user.NewMemoryStore(user.User{ID: "alice", Name: "Alice", Email: "alice@example.com"})
	dir := &gatedDirectory{Directory: users, entered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(dir, chat.NewMemoryStore(), nil)

	observer := &fakeConn{}
	if _, err := hub.Connect(observer); err != nil {
		t.Fatalf("connect: %v", err)
	}
	s, err := hub.Connect(&fakeConn{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- hub.Authenticate(context.Background(), s, AuthenticatePayload{UserID: "alice"})
	}()
	<-dir.entered
	hub.Disconnect(s)
	close(dir.release)

	if err := <-done; err != nil {
		t.Fatalf("expected silent abort, got %v", err)
	}
	if hub.IsOnline("alice") {
		t.Fatalf("expected no registry entry for a closed connection")
	}
	if got := observer.of(EventUserOnline); len(got) != 0 {
		t.Fatalf("expected no userOnline, got %+v", got)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected session to stay closed, got %s", s.State())
	}
}

type stubVerifier map[string]string

func (v stubVerifier) Verify(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", errors.New("bad token")
}

func TestAuthenticateWithToken(t *testing.T) {
	f := newFixture(t, WithTokenVerifier(stubVerifier{"tok-alice": "alice"}, true))
	s, _ := f.connect(t)
	ctx := context.Background()

	expectCode(t, f.hub.Authenticate(ctx, s, AuthenticatePayload{UserID: "alice"}), CodeUnauthorized)
	expectCode(t, f.hub.Authenticate(ctx, s, AuthenticatePayload{Token: "nope"}), CodeUnauthorized)
	expectCode(t, f.hub.Authenticate(ctx, s, AuthenticatePayload{UserID: "bob", Token: "tok-alice"}), CodeUnauthorized)

	if err := f.hub.Authenticate(ctx, s, AuthenticatePayload{Token: "tok-alice"}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity, ok := s.Identity(); !ok || identity != "alice" {
		t.Fatalf("expected alice bound, got %q", identity)
	}
}

func TestSendMessageDeliversToEveryReceiverConnection(t *testing.T) {
	f := newFixture(t)
	sender, senderConn := f.login(t, "alice")
	_, senderOther := f.login(t, "alice")
	_, bob1 := f.login(t, "bob")
	_, bob2 := f.login(t, "bob")
	_, carol := f.login(t, "carol")

	saved, err := f.hub.SendMessage(context.Background(), sender, SendMessagePayload{ReceiverID: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if saved.ID == "" || saved.Sender != "alice" || saved.Type != chat.KindText || saved.IsRead {
		t.Fatalf("unexpected stored message %+v", saved)
	}

	for name, conn := range map[string]*fakeConn{"bob1": bob1, "bob2": bob2} {
		got := conn.of(EventNewMessage)
		if len(got) != 1 {
			t.Fatalf("%s: expected one newMessage, got %d", name, len(got))
		}
		if m := got[0].Data.(chat.Message); m.ID != saved.ID {
			t.Fatalf("%s: expected message %s, got %s", name, saved.ID, m.ID)
		}
	}
	if got := senderConn.of(EventMessageSent); len(got) != 1 || got[0].Data.(chat.Message).ID != saved.ID {
		t.Fatalf("expected exactly one messageSent to the sending connection, got %+v", got)
	}
	if got := senderOther.of(EventMessageSent); len(got) != 0 {
		t.Fatalf("expected no messageSent on the sender's other connection")
	}
	if got := carol.of(EventNewMessage); len(got) != 0 {
		t.Fatalf("expected carol to see nothing")
	}
}

func TestSendMessageToOfflineReceiverIsStored(t *testing.T) {
	f := newFixture(t)
	sender, conn := f.login(t, "alice")

	saved, err := f.hub.SendMessage(context.Background(), sender, SendMessagePayload{ReceiverID: "bob", Content: "later"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := f.messages.FindByID(context.Background(), saved.ID); err != nil {
		t.Fatalf("expected message stored: %v", err)
	}
	if got := conn.of(EventMessageSent); len(got) != 1 {
		t.Fatalf("expected confirmation, got %+v", got)
	}
}

func TestSendMessageRequiresAuthentication(t *testing.T) {
	f := newFixture(t)
	s, _ := f.connect(t)
	_, bob := f.login(t, "bob")

	_, err := f.hub.SendMessage(context.Background(), s, SendMessagePayload{ReceiverID: "bob", Content: "hi"})
	expectCode(t, err, CodeUnauthorized)

	history, _ := f.messages.Conversation(context.Background(), "alice", "bob", 0)
	if len(history) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(history))
	}
	if got := bob.of(EventNewMessage); len(got) != 0 {
		t.Fatalf("expected no delivery")
	}
}

func TestSendMessageAttachmentRule(t *testing.T) {
	f := newFixture(t)
	s, _ := f.login(t, "alice")
	ctx := context.Background()

	cases := []struct {
		name    string
		payload SendMessagePayload
		wantErr bool
	}{
		{"image without file", SendMessagePayload{ReceiverID: "bob", Content: "pic", Type: chat.KindImage}, true},
		{"text with file", SendMessagePayload{ReceiverID: "bob", Content: "x", FileURL: "https://cdn.example.com/a.png"}, true},
		{"blank content", SendMessagePayload{ReceiverID: "bob", Content: "   "}, true},
		{"voice with file", SendMessagePayload{ReceiverID: "bob", Content: "memo", Type: chat.KindVoice, FileURL: "https://cdn.example.com/a.ogg"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.hub.SendMessage(ctx, s, tc.payload)
			if tc.wantErr {
				expectCode(t, err, CodeProtocolError)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

type failingStore struct {
	chat.Store
}

func (failingStore) Create(context.Context, chat.Message) (chat.Message, error) {
	return chat.Message{}, errors.New("disk full")
}

func TestSendMessagePersistenceFailureDeliversNothing(t *testing.T) {
	users := user.NewMemoryStore(
		user.User{ID: "alice", Email: "alice@example.com"},
		user.User{ID: "bob", Email: "bob@example.com"},
	)
	hub := NewHub(users, failingStore{chat.NewMemoryStore()}, nil)

	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	alice, _ := hub.Connect(aliceConn)
	bob, _ := hub.Connect(bobConn)
	ctx := context.Background()
	if err := hub.Authenticate(ctx, alice, AuthenticatePayload{UserID: "alice"}); err != nil {
		t.Fatalf("authenticate alice: %v", err)
	}
	if err := hub.Authenticate(ctx, bob, AuthenticatePayload{UserID: "bob"}); err != nil {
		t.Fatalf("authenticate bob: %v", err)
	}

	hub.Dispatch(ctx, alice, frame(t, EventSendMessage, map[string]string{"receiverId": "bob", "content": "hi"}))

	if got := bobConn.of(EventNewMessage); len(got) != 0 {
		t.Fatalf("expected no newMessage, got %+v", got)
	}
	if got := aliceConn.of(EventMessageSent); len(got) != 0 {
		t.Fatalf("expected no messageSent, got %+v", got)
	}
	if got := aliceConn.of(EventError); len(got) != 1 || got[0].Data != "Failed to send message" {
		t.Fatalf("expected one error event, got %+v", got)
	}
}

func TestMarkAsReadNotifiesSender(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.login(t, "alice")
	bob, bobConn := f.login(t, "bob")
	ctx := context.Background()

	saved, err := f.hub.SendMessage(ctx, alice, SendMessagePayload{ReceiverID: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := f.hub.MarkAsRead(ctx, bob, saved.ID); err != nil {
		t.Fatalf("mark as read: %v", err)
	}
	stored, _ := f.messages.FindByID(ctx, saved.ID)
	if !stored.IsRead {
		t.Fatalf("expected message marked read")
	}
	if got := aliceConn.of(EventMessageRead); len(got) != 1 || got[0].Data != saved.ID {
		t.Fatalf("expected one messageRead(%s), got %+v", saved.ID, got)
	}
	if got := bobConn.of(EventMessageRead); len(got) != 0 {
		t.Fatalf("expected reader to get no messageRead")
	}

	if err := f.hub.MarkAsRead(ctx, bob, saved.ID); err != nil {
		t.Fatalf("expected repeat to succeed: %v", err)
	}
	if got := aliceConn.of(EventMessageRead); len(got) != 2 {
		t.Fatalf("expected a second notification, got %d", len(got))
	}
}

func TestMarkAsReadChecks(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.login(t, "alice")
	carol, _ := f.login(t, "carol")
	anon, _ := f.connect(t)
	ctx := context.Background()

	saved, err := f.hub.SendMessage(ctx, alice, SendMessagePayload{ReceiverID: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	expectCode(t, f.hub.MarkAsRead(ctx, anon, saved.ID), CodeUnauthorized)
	expectCode(t, f.hub.MarkAsRead(ctx, carol, saved.ID), CodeUnauthorized)
	expectCode(t, f.hub.MarkAsRead(ctx, alice, saved.ID), CodeUnauthorized)
	expectCode(t, f.hub.MarkAsRead(ctx, carol, "missing"), CodeNotFound)

	stored, _ := f.messages.FindByID(ctx, saved.ID)
	if stored.IsRead {
		t.Fatalf("expected message to stay unread")
	}
}

func TestTypingRelay(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.login(t, "alice")
	_, bobConn := f.login(t, "bob")
	anon, _ := f.connect(t)

	if err := f.hub.SetTyping(alice, TypingPayload{ReceiverID: "bob", IsTyping: true}); err != nil {
		t.Fatalf("typing: %v", err)
	}
	got := bobConn.of(EventTyping)
	if len(got) != 1 {
		t.Fatalf("expected one typing event, got %d", len(got))
	}
	if notice := got[0].Data.(TypingNotice); notice.UserID != "alice" || !notice.IsTyping {
		t.Fatalf("unexpected notice %+v", notice)
	}
	if len(aliceConn.of(EventTyping)) != 0 {
		t.Fatalf("expected no echo to the sender")
	}

	expectCode(t, f.hub.SetTyping(anon, TypingPayload{ReceiverID: "bob"}), CodeUnauthorized)
	if len(bobConn.of(EventTyping)) != 1 {
		t.Fatalf("expected unauthenticated typing to be dropped")
	}
}

func TestDispatchRejectsMalformedFrames(t *testing.T) {
	f := newFixture(t)
	s, conn := f.login(t, "alice")
	ctx := context.Background()

	inputs := [][]byte{
		[]byte("not json"),
		[]byte(`{"data":"x"}`),
		[]byte(`{"type":"dance","data":{}}`),
		frame(t, EventSendMessage, "just a string"),
		frame(t, EventSendMessage, map[string]string{"content": "no receiver"}),
		frame(t, EventSendMessage, map[string]string{"receiverId": "bob", "content": "x", "type": "video"}),
		frame(t, EventTyping, nil),
		frame(t, EventMarkAsRead, 42),
	}
	for _, in := range inputs {
		f.hub.Dispatch(ctx, s, in)
	}

	if got := conn.of(EventError); len(got) != len(inputs) {
		t.Fatalf("expected %d error events, got %d", len(inputs), len(got))
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("expected session to survive protocol errors")
	}
}

func TestDispatchRoundTrip(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect(t)
	bob, bobConn := f.connect(t)
	ctx := context.Background()

	f.hub.Dispatch(ctx, alice, frame(t, EventAuthenticate, "alice"))
	f.hub.Dispatch(ctx, bob, frame(t, EventAuthenticate, map[string]string{"userId": "bob"}))
	f.hub.Dispatch(ctx, alice, frame(t, EventSendMessage, map[string]string{"receiverId": "bob", "content": "hello"}))

	sent := aliceConn.of(EventMessageSent)
	if len(sent) != 1 {
		t.Fatalf("expected messageSent, got %+v", aliceConn.of(EventError))
	}
	id := sent[0].Data.(chat.Message).ID
	if len(bobConn.of(EventNewMessage)) != 1 {
		t.Fatalf("expected bob to receive newMessage")
	}

	f.hub.Dispatch(ctx, bob, frame(t, EventMarkAsRead, id))
	if got := aliceConn.of(EventMessageRead); len(got) != 1 || got[0].Data != id {
		t.Fatalf("expected messageRead(%s), got %+v", id, got)
	}
	if len(aliceConn.of(EventError))+len(bobConn.of(EventError)) != 0 {
		t.Fatalf("expected no errors")
	}
}

func TestCloseDropsEveryone(t *testing.T) {
	f := newFixture(t)
	_, aliceConn := f.login(t, "alice")
	_, bobConn := f.login(t, "bob")

	f.hub.Close()

	if f.hub.IsOnline("alice") || f.hub.IsOnline("bob") {
		t.Fatalf("expected empty registry")
	}
	if !aliceConn.closed || !bobConn.closed {
		t.Fatalf("expected connections closed")
	}
	if len(bobConn.of(EventUserOffline)) != 0 {
		t.Fatalf("expected no offline broadcast on shutdown")
	}
	if _, err := f.hub.Connect(&fakeConn{}); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}

type fullConn struct{ fakeConn }

func (*fullConn) Send(Event) bool { return false }

func TestFullQueueDropsEvent(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.login(t, "alice")
	bob, err := f.hub.Connect(&fullConn{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := f.hub.Authenticate(context.Background(), bob, AuthenticatePayload{UserID: "bob"}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	before := testutil.ToFloat64(metrics.DroppedEvents)
	if _, err := f.hub.SendMessage(context.Background(), alice, SendMessagePayload{ReceiverID: "bob", Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := testutil.ToFloat64(metrics.DroppedEvents); got != before+1 {
		t.Fatalf("expected one dropped event, got %v", got-before)
	}
}
