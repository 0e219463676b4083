package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/pkg/errors"
)

// fakeBackend implements the message and conversation repositories over
// in-memory state with synchronous event push, standing in for the live
// document store.
type fakeBackend struct {
	mu       sync.Mutex
	clock    time.Time
	seq      int
	messages map[string][]*entity.Message
	convs    map[string]*entity.Conversation
	msgSubs  []*fakeMsgSub
	convSubs []*fakeConvSub
}

type fakeMsgSub struct {
	conversationID string
	fn             func([]*entity.Message)
	closed         bool
}

type fakeConvSub struct {
	userID string
	fn     func([]*entity.Conversation)
	closed bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		messages: make(map[string][]*entity.Message),
		convs:    make(map[string]*entity.Conversation),
	}
}

// tick advances the logical server clock; must be called with mu held.
func (f *fakeBackend) tick() time.Time {
	f.clock = f.clock.Add(time.Millisecond)
	return f.clock
}

func (f *fakeBackend) Create(ctx context.Context, message *entity.Message) error {
	f.mu.Lock()

	f.seq++
	if message.ID == "" {
		message.ID = fmt.Sprintf("m%d", f.seq)
	}

	stored := *message
	stored.Timestamp = f.tick()
	f.messages[message.ConversationID] = append(f.messages[message.ConversationID], &stored)

	conv, ok := f.convs[message.ConversationID]
	if !ok {
		conv = &entity.Conversation{
			ID:           message.ConversationID,
			Participants: []string{message.SenderID, message.ReceiverID},
			UnreadCount:  make(map[string]int),
			CreatedAt:    stored.Timestamp,
		}
		f.convs[message.ConversationID] = conv
	}
	conv.LastMessage = &entity.MessageSnapshot{
		ID:        stored.ID,
		Content:   stored.Content,
		SenderID:  stored.SenderID,
		Timestamp: stored.Timestamp,
		Type:      stored.Type,
	}
	conv.UpdatedAt = stored.Timestamp
	if message.JobID != "" {
		conv.JobID = message.JobID
	}
	conv.UnreadCount[message.ReceiverID]++

	f.mu.Unlock()

	f.pushMessages(message.ConversationID)
	f.pushConversations()
	return nil
}

func (f *fakeBackend) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.messages[conversationID] {
		if m.ID == messageID {
			clone := *m
			return &clone, nil
		}
	}
	return nil, errors.NotFound("Message", nil)
}

func (f *fakeBackend) ListByConversation(ctx context.Context, conversationID string, limit int, before time.Time, beforeID string) ([]*entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*entity.Message
	for _, m := range f.messages[conversationID] {
		if !before.IsZero() {
			atBoundary := m.Timestamp.Equal(before) && beforeID != "" && m.ID < beforeID
			if !m.Timestamp.Before(before) && !atBoundary {
				continue
			}
		}
		clone := *m
		out = append(out, &clone)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, conversationID, messageID string) error {
	f.mu.Lock()

	found := false
	for _, m := range f.messages[conversationID] {
		if m.ID == messageID {
			m.IsRead = true
			found = true
		}
	}
	f.mu.Unlock()

	if !found {
		return errors.NotFound("Message", nil)
	}
	f.pushMessages(conversationID)
	return nil
}

func (f *fakeBackend) MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error) {
	f.mu.Lock()

	count := 0
	for _, m := range f.messages[conversationID] {
		if m.ReceiverID == userID && !m.IsRead {
			m.IsRead = true
			count++
		}
	}
	if conv, ok := f.convs[conversationID]; ok {
		conv.UnreadCount[userID] = 0
	}
	f.mu.Unlock()

	f.pushMessages(conversationID)
	f.pushConversations()
	return count, nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, conversationID string, limit int, fn func([]*entity.Message)) (repository.Unsubscribe, error) {
	sub := &fakeMsgSub{conversationID: conversationID, fn: fn}

	f.mu.Lock()
	f.msgSubs = append(f.msgSubs, sub)
	f.mu.Unlock()

	f.pushMessages(conversationID)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			sub.closed = true
			f.mu.Unlock()
		})
	}, nil
}

// pushMessages delivers the current page to open subscribers.
func (f *fakeBackend) pushMessages(conversationID string) {
	f.mu.Lock()
	var page []*entity.Message
	for _, m := range f.messages[conversationID] {
		clone := *m
		page = append(page, &clone)
	}
	var targets []func([]*entity.Message)
	for _, sub := range f.msgSubs {
		if !sub.closed && sub.conversationID == conversationID {
			targets = append(targets, sub.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range targets {
		fn(page)
	}
}

// pushRaw delivers an arbitrary page, simulating network-reordered arrival.
func (f *fakeBackend) pushRaw(conversationID string, page []*entity.Message) {
	f.mu.Lock()
	var targets []func([]*entity.Message)
	for _, sub := range f.msgSubs {
		if !sub.closed && sub.conversationID == conversationID {
			targets = append(targets, sub.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range targets {
		fn(page)
	}
}

func (f *fakeBackend) GetConvByID(ctx context.Context, id string) (*entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.convs[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	clone := *conv
	return &clone, nil
}

func (f *fakeBackend) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*entity.Conversation
	for _, conv := range f.convs {
		if conv.HasParticipant(userID) {
			clone := *conv
			out = append(out, &clone)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeBackend) SubscribeConvs(ctx context.Context, userID string, fn func([]*entity.Conversation)) (repository.Unsubscribe, error) {
	sub := &fakeConvSub{userID: userID, fn: fn}

	f.mu.Lock()
	f.convSubs = append(f.convSubs, sub)
	f.mu.Unlock()

	f.pushConversations()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			sub.closed = true
			f.mu.Unlock()
		})
	}, nil
}

func (f *fakeBackend) pushConversations() {
	f.mu.Lock()
	type target struct {
		fn   func([]*entity.Conversation)
		page []*entity.Conversation
	}
	var targets []target
	for _, sub := range f.convSubs {
		if sub.closed {
			continue
		}
		var page []*entity.Conversation
		for _, conv := range f.convs {
			if conv.HasParticipant(sub.userID) {
				clone := *conv
				page = append(page, &clone)
			}
		}
		targets = append(targets, target{fn: sub.fn, page: page})
	}
	f.mu.Unlock()

	for _, t := range targets {
		t.fn(t.page)
	}
}

// convRepoAdapter exposes the fake's conversation half under the repository
// interface.
type convRepoAdapter struct {
	f *fakeBackend
}

func (a convRepoAdapter) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	return a.f.GetConvByID(ctx, id)
}

func (a convRepoAdapter) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	return a.f.ListByUser(ctx, userID, limit, offset)
}

func (a convRepoAdapter) Subscribe(ctx context.Context, userID string, fn func([]*entity.Conversation)) (repository.Unsubscribe, error) {
	return a.f.SubscribeConvs(ctx, userID, fn)
}

func newTestEngine() (*fakeBackend, *MessagingUseCase) {
	backend := newFakeBackend()
	uc := NewMessagingUseCase(backend, convRepoAdapter{backend}, 50)
	return backend, uc
}

type pageRecorder struct {
	mu    sync.Mutex
	pages [][]*entity.Message
}

func (r *pageRecorder) record(page []*entity.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := make([]*entity.Message, len(page))
	copy(clone, page)
	r.pages = append(r.pages, clone)
}

func (r *pageRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}

func (r *pageRecorder) last() []*entity.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pages) == 0 {
		return nil
	}
	return r.pages[len(r.pages)-1]
}

func TestSendRequiresSession(t *testing.T) {
	_, uc := newTestEngine()

	_, err := uc.Send(context.Background(), nil, SendMessageInput{ReceiverID: "2", Content: "hi"})
	assert.True(t, errors.Is(err, "UNAUTHENTICATED"))

	_, err = uc.Send(context.Background(), &Session{}, SendMessageInput{ReceiverID: "2", Content: "hi"})
	assert.True(t, errors.Is(err, "UNAUTHENTICATED"))
}

func TestSendRejectsSelfMessage(t *testing.T) {
	_, uc := newTestEngine()

	_, err := uc.Send(context.Background(), &Session{UserID: "1"}, SendMessageInput{ReceiverID: "1", Content: "hi"})
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	_, uc := newTestEngine()

	_, err := uc.Send(context.Background(), &Session{UserID: "1"}, SendMessageInput{ReceiverID: "2"})
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestSendUpdatesConversationIndex(t *testing.T) {
	backend, uc := newTestEngine()
	ctx := context.Background()

	message, err := uc.Send(ctx, &Session{UserID: "1"}, SendMessageInput{
		ReceiverID: "2",
		Content:    "hello",
		JobID:      "42",
	})
	require.NoError(t, err)
	assert.Equal(t, "1_2", message.ConversationID)
	assert.NotEmpty(t, message.ID)
	assert.NotEmpty(t, message.ClientRef)

	conv, err := backend.GetConvByID(ctx, "1_2")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadFor("2"))
	assert.Equal(t, 0, conv.UnreadFor("1"))
	assert.Equal(t, "hello", conv.LastMessage.Content)
	assert.Equal(t, "1", conv.LastMessage.SenderID)
	assert.Equal(t, "42", conv.JobID)

	_, err = uc.Send(ctx, &Session{UserID: "1"}, SendMessageInput{ReceiverID: "2", Content: "again"})
	require.NoError(t, err)

	conv, err = backend.GetConvByID(ctx, "1_2")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.UnreadFor("2"))
	assert.Equal(t, "again", conv.LastMessage.Content)
}

func TestSubscribeDeliversTimestampOrdered(t *testing.T) {
	backend, uc := newTestEngine()
	rec := &pageRecorder{}

	sub, err := uc.SubscribeMessages(context.Background(), &Session{UserID: "1"}, "1_2", 0, rec.record)
	require.NoError(t, err)
	defer sub.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Network-reordered arrival: newest first.
	backend.pushRaw("1_2", []*entity.Message{
		{ID: "c", ConversationID: "1_2", SenderID: "2", Timestamp: base.Add(3 * time.Second)},
		{ID: "a", ConversationID: "1_2", SenderID: "1", Timestamp: base.Add(1 * time.Second)},
		{ID: "b", ConversationID: "1_2", SenderID: "2", Timestamp: base.Add(2 * time.Second)},
	})

	page := rec.last()
	require.Len(t, page, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{page[0].ID, page[1].ID, page[2].ID})
	for i := 1; i < len(page); i++ {
		assert.False(t, page[i].Timestamp.Before(page[i-1].Timestamp))
	}
}

func TestSubscribeRequiresParticipant(t *testing.T) {
	_, uc := newTestEngine()

	_, err := uc.SubscribeMessages(context.Background(), &Session{UserID: "3"}, "1_2", 0, func([]*entity.Message) {})
	assert.True(t, errors.Is(err, "PERMISSION_DENIED"))

	_, err = uc.SubscribeMessages(context.Background(), &Session{UserID: "3"}, "not-a-conversation-id-", 0, func([]*entity.Message) {})
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestUnreadResetsOnMarkConversationRead(t *testing.T) {
	backend, uc := newTestEngine()
	ctx := context.Background()
	alice := &Session{UserID: "1"}
	bob := &Session{UserID: "2"}

	for i := 0; i < 3; i++ {
		_, err := uc.Send(ctx, alice, SendMessageInput{ReceiverID: "2", Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}

	conv, _ := backend.GetConvByID(ctx, "1_2")
	assert.Equal(t, 3, conv.UnreadFor("2"))

	updated, err := uc.MarkConversationRead(ctx, bob, "1_2")
	require.NoError(t, err)
	assert.Equal(t, 3, updated)

	conv, _ = backend.GetConvByID(ctx, "1_2")
	assert.Equal(t, 0, conv.UnreadFor("2"))

	messages, err := uc.ListMessages(ctx, bob, "1_2", 0, time.Time{}, "")
	require.NoError(t, err)
	for _, m := range messages {
		assert.True(t, m.IsRead)
	}

	// New messages while the view stays active start a fresh count.
	_, err = uc.Send(ctx, alice, SendMessageInput{ReceiverID: "2", Content: "one more"})
	require.NoError(t, err)
	conv, _ = backend.GetConvByID(ctx, "1_2")
	assert.Equal(t, 1, conv.UnreadFor("2"))

	updated, err = uc.MarkConversationRead(ctx, bob, "1_2")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	conv, _ = backend.GetConvByID(ctx, "1_2")
	assert.Equal(t, 0, conv.UnreadFor("2"))
}

func TestMarkMessageReadIdempotent(t *testing.T) {
	_, uc := newTestEngine()
	ctx := context.Background()

	message, err := uc.Send(ctx, &Session{UserID: "1"}, SendMessageInput{ReceiverID: "2", Content: "hi"})
	require.NoError(t, err)

	bob := &Session{UserID: "2"}
	require.NoError(t, uc.MarkMessageRead(ctx, bob, "1_2", message.ID))
	require.NoError(t, uc.MarkMessageRead(ctx, bob, "1_2", message.ID))

	got, err := uc.ListMessages(ctx, bob, "1_2", 0, time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsRead)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	backend, uc := newTestEngine()
	rec := &pageRecorder{}

	sub, err := uc.SubscribeMessages(context.Background(), &Session{UserID: "1"}, "1_2", 0, rec.record)
	require.NoError(t, err)

	delivered := rec.count()
	sub.Close()

	// A push racing the close must be discarded, not delivered.
	backend.pushRaw("1_2", []*entity.Message{
		{ID: "late", ConversationID: "1_2", SenderID: "2", Timestamp: time.Now()},
	})
	assert.Equal(t, delivered, rec.count())

	// Close is idempotent.
	sub.Close()
	assert.Equal(t, int64(0), uc.OpenSubscriptions())
}

func TestOpenSubscriptionAccounting(t *testing.T) {
	_, uc := newTestEngine()
	ctx := context.Background()
	alice := &Session{UserID: "1"}

	sub1, err := uc.SubscribeMessages(ctx, alice, "1_2", 0, func([]*entity.Message) {})
	require.NoError(t, err)
	sub2, err := uc.SubscribeMessages(ctx, alice, "1_3", 0, func([]*entity.Message) {})
	require.NoError(t, err)
	convSub, err := uc.SubscribeConversations(ctx, alice, func([]*entity.Conversation) {})
	require.NoError(t, err)

	assert.Equal(t, int64(3), uc.OpenSubscriptions())

	sub1.Close()
	sub2.Close()
	convSub.Close()
	assert.Equal(t, int64(0), uc.OpenSubscriptions())
}

func TestPendingReconciliation(t *testing.T) {
	_, uc := newTestEngine()
	ctx := context.Background()
	alice := &Session{UserID: "1"}
	rec := &pageRecorder{}

	sub, err := uc.SubscribeMessages(ctx, alice, "1_2", 0, rec.record)
	require.NoError(t, err)
	defer sub.Close()

	pending := &entity.Message{
		ConversationID: "1_2",
		SenderID:       "1",
		ReceiverID:     "2",
		Content:        "optimistic",
		Type:           entity.MessageTypeText,
		ClientRef:      "ref-1",
	}
	sub.TrackPending(pending)

	page := rec.last()
	require.Len(t, page, 1)
	assert.True(t, page[0].Pending())
	assert.Equal(t, "ref-1", page[0].ClientRef)

	// The confirmed message replaces the pending entry; never both.
	_, err = uc.Send(ctx, alice, SendMessageInput{ReceiverID: "2", Content: "optimistic", ClientRef: "ref-1"})
	require.NoError(t, err)

	page = rec.last()
	require.Len(t, page, 1)
	assert.False(t, page[0].Pending())
	assert.Equal(t, "ref-1", page[0].ClientRef)
	assert.Equal(t, "optimistic", page[0].Content)
}

func TestDropPendingRemovesFailedSend(t *testing.T) {
	_, uc := newTestEngine()
	rec := &pageRecorder{}

	sub, err := uc.SubscribeMessages(context.Background(), &Session{UserID: "1"}, "1_2", 0, rec.record)
	require.NoError(t, err)
	defer sub.Close()

	sub.TrackPending(&entity.Message{ConversationID: "1_2", SenderID: "1", ClientRef: "doomed"})
	require.Len(t, rec.last(), 1)

	sub.DropPending("doomed")
	assert.Len(t, rec.last(), 0)
}

func TestSubscribeConversationsOrdersByRecency(t *testing.T) {
	_, uc := newTestEngine()
	ctx := context.Background()
	alice := &Session{UserID: "1"}

	_, err := uc.Send(ctx, alice, SendMessageInput{ReceiverID: "2", Content: "to bob"})
	require.NoError(t, err)
	_, err = uc.Send(ctx, alice, SendMessageInput{ReceiverID: "3", Content: "to carol"})
	require.NoError(t, err)

	var mu sync.Mutex
	var last []*entity.Conversation
	sub, err := uc.SubscribeConversations(ctx, alice, func(convs []*entity.Conversation) {
		mu.Lock()
		last = convs
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	_, err = uc.Send(ctx, alice, SendMessageInput{ReceiverID: "2", Content: "bob again"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, last, 2)
	assert.Equal(t, "1_2", last[0].ID)
	assert.Equal(t, "1_3", last[1].ID)
	assert.False(t, last[0].UpdatedAt.Before(last[1].UpdatedAt))
}

func TestListMessagesPagesBackward(t *testing.T) {
	_, uc := newTestEngine()
	ctx := context.Background()
	alice := &Session{UserID: "1"}
	bob := &Session{UserID: "2"}

	for i := 0; i < 5; i++ {
		_, err := uc.Send(ctx, alice, SendMessageInput{ReceiverID: "2", Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}

	newest, err := uc.ListMessages(ctx, bob, "1_2", 2, time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "msg 3", newest[0].Content)
	assert.Equal(t, "msg 4", newest[1].Content)

	older, err := uc.ListMessages(ctx, bob, "1_2", 2, newest[0].Timestamp, newest[0].ID)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "msg 1", older[0].Content)
	assert.Equal(t, "msg 2", older[1].Content)
}

func TestListMessagesCursorKeepsEqualTimestamps(t *testing.T) {
	backend, uc := newTestEngine()
	ctx := context.Background()
	bob := &Session{UserID: "2"}

	// Three messages landed in the same backend clock tick.
	shared := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	backend.messages["1_2"] = []*entity.Message{
		{ID: "a", ConversationID: "1_2", SenderID: "1", ReceiverID: "2", Timestamp: shared},
		{ID: "b", ConversationID: "1_2", SenderID: "1", ReceiverID: "2", Timestamp: shared},
		{ID: "c", ConversationID: "1_2", SenderID: "1", ReceiverID: "2", Timestamp: shared},
	}

	older, err := uc.ListMessages(ctx, bob, "1_2", 10, shared, "c")
	require.NoError(t, err)
	require.Len(t, older, 2, "messages sharing the cursor timestamp were skipped")
	assert.Equal(t, "a", older[0].ID)
	assert.Equal(t, "b", older[1].ID)
}

func TestGetConversationChecksParticipant(t *testing.T) {
	_, uc := newTestEngine()
	ctx := context.Background()

	_, err := uc.Send(ctx, &Session{UserID: "1"}, SendMessageInput{ReceiverID: "2", Content: "hi"})
	require.NoError(t, err)

	_, err = uc.GetConversation(ctx, &Session{UserID: "3"}, "1_2")
	assert.True(t, errors.Is(err, "PERMISSION_DENIED"))

	conv, err := uc.GetConversation(ctx, &Session{UserID: "2"}, "1_2")
	require.NoError(t, err)
	assert.Equal(t, "1_2", conv.ID)
}
