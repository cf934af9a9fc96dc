package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/internal/service/mocks"
	"github.com/capitalize-ai/realtime-chat/internal/store"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

type fixture struct {
	store     *store.Store
	directory *Directory
	log       *Log
	emitter   *mocks.MockEmitter
}

func newFixture(t *testing.T, journal Journal) *fixture {
	t.Helper()
	return newFixtureWithQueue(t, journal, journalQueueSize)
}

func newFixtureWithQueue(t *testing.T, journal Journal, queue int) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logger.NewNop()
	s := store.New(db, log)
	emitter := mocks.NewMockEmitter(gomock.NewController(t))
	gate := NewGate(s, s)
	dispatcher := newDispatcher(emitter, journal, queue, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go dispatcher.Run(ctx)
	return &fixture{
		store:     s,
		directory: NewDirectory(s, s, s, gate, log),
		log:       NewLog(s, s, s, gate, dispatcher, model.DefaultRetention, log),
		emitter:   emitter,
	}
}

func (f *fixture) trip(t *testing.T) *model.Conversation {
	t.Helper()
	g, err := f.directory.CreateGroup(context.Background(), "u1", &model.CreateGroupRequest{Name: "Trip", Members: []string{"u2", "u3"}})
	require.NoError(t, err)
	return g
}

func eventNamed(name model.EventName) gomock.Matcher {
	return gomock.Cond(func(x any) bool {
		evt, ok := x.(model.Event)
		return ok && evt.Name == name
	})
}

func Test_CreateOrGetDirect_Same_Conversation_For_Both_Orders(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []string
	)
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor, other := "alice", "bob"
			if i%2 == 1 {
				actor, other = other, actor
			}
			conv, err := f.directory.CreateOrGetDirect(ctx, actor, other)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			ids = append(ids, conv.ID)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	req.Len(lo.Uniq(ids), 1)
	conv, err := f.directory.CreateOrGetDirect(ctx, "bob", "alice")
	req.NoError(err)
	req.Equal(ids[0], conv.ID)
	req.False(conv.IsGroup)
	req.Empty(conv.Admins)
	req.ElementsMatch([]string{"alice", "bob"}, conv.Participants)
}

func Test_CreateOrGetDirect_With_Self_Is_Invalid(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.directory.CreateOrGetDirect(context.Background(), "alice", "alice")
	require.ErrorIs(t, err, model.ErrInvalidOperation)
}

func Test_CreateGroup_Needs_Two_Others(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)

	_, err := f.directory.CreateGroup(context.Background(), "u1", &model.CreateGroupRequest{Name: "Trip", Members: []string{"u2", "u1"}})
	req.ErrorIs(err, model.ErrInvalidInput)

	g := f.trip(t)
	req.True(g.IsGroup)
	req.Equal([]string{"u1"}, g.Admins)
	req.ElementsMatch([]string{"u1", "u2", "u3"}, g.Participants)
}

func Test_Trip_Scenario_Leave_Requires_Another_Admin(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()

	// Given U1 created "Trip" with U2 and U3
	g := f.trip(t)

	// When U1, the sole admin, leaves
	err := f.directory.LeaveGroup(ctx, "u1", g.ID)

	// Then it is rejected and nothing changed
	req.ErrorIs(err, model.ErrLastAdmin)
	stored, err := f.store.GetConversation(ctx, g.ID)
	req.NoError(err)
	req.ElementsMatch([]string{"u1", "u2", "u3"}, stored.Participants)
	req.Equal([]string{"u1"}, stored.Admins)

	// When U1 promotes U2 and leaves again
	_, err = f.directory.PromoteAdmin(ctx, "u1", g.ID, "u2")
	req.NoError(err)
	req.NoError(f.directory.LeaveGroup(ctx, "u1", g.ID))

	// Then only U2 and U3 remain, U2 as admin
	stored, err = f.store.GetConversation(ctx, g.ID)
	req.NoError(err)
	req.ElementsMatch([]string{"u2", "u3"}, stored.Participants)
	req.Equal([]string{"u2"}, stored.Admins)

	// And U1 no longer sees the group
	views, err := f.directory.ListForUser(ctx, "u1")
	req.NoError(err)
	req.Empty(views)
}

func Test_Group_Mutations_Keep_Admin_Invariants(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	g := f.trip(t)

	check := func() {
		stored, err := f.store.GetConversation(ctx, g.ID)
		req.NoError(err)
		req.NotEmpty(stored.Admins)
		req.Subset(stored.Participants, stored.Admins)
	}

	_, err := f.directory.AddMembers(ctx, "u1", g.ID, []string{"u3", "u4"})
	req.NoError(err)
	check()

	_, err = f.directory.RemoveMember(ctx, "u1", g.ID, "u1")
	req.ErrorIs(err, model.ErrLastAdmin)
	check()

	_, err = f.directory.PromoteAdmin(ctx, "u1", g.ID, "u4")
	req.NoError(err)
	updated, err := f.directory.RemoveMember(ctx, "u1", g.ID, "u4")
	req.NoError(err)
	req.NotContains(updated.Participants, "u4")
	req.NotContains(updated.Admins, "u4")
	check()

	renamed, err := f.directory.RenameGroup(ctx, "u1", g.ID, "")
	req.NoError(err)
	req.Equal("Trip", renamed.GroupName)
	renamed, err = f.directory.RenameGroup(ctx, "u1", g.ID, "Holiday")
	req.NoError(err)
	req.Equal("Holiday", renamed.GroupName)
	check()
}

func Test_Group_Operations_Are_Gated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	g := f.trip(t)
	dm, err := f.directory.CreateOrGetDirect(ctx, "u1", "u2")
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"non admin renames", func() error { _, err := f.directory.RenameGroup(ctx, "u2", g.ID, "x"); return err }, model.ErrForbidden},
		{"non admin adds", func() error { _, err := f.directory.AddMembers(ctx, "u2", g.ID, []string{"u9"}); return err }, model.ErrForbidden},
		{"non admin removes", func() error { _, err := f.directory.RemoveMember(ctx, "u3", g.ID, "u2"); return err }, model.ErrForbidden},
		{"stranger leaves", func() error { return f.directory.LeaveGroup(ctx, "u9", g.ID) }, model.ErrForbidden},
		{"promote stranger", func() error { _, err := f.directory.PromoteAdmin(ctx, "u1", g.ID, "u9"); return err }, model.ErrInvalidInput},
		{"direct is not a group", func() error { _, err := f.directory.RenameGroup(ctx, "u1", dm.ID, "x"); return err }, model.ErrNotFound},
		{"leave direct", func() error { return f.directory.LeaveGroup(ctx, "u1", dm.ID) }, model.ErrNotFound},
		{"unknown group", func() error { return f.directory.LeaveGroup(ctx, "u1", newID()) }, model.ErrNotFound},
		{"malformed id", func() error { return f.directory.LeaveGroup(ctx, "u1", "nope") }, model.ErrInvalidInput},
		{"stranger reads", func() error { _, err := f.directory.Get(ctx, "u9", g.ID); return err }, model.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.call(), tt.want)
		})
	}
}

func Test_Hello_Then_Read_Notifies_The_Sender_Only(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	dm, err := f.directory.CreateOrGetDirect(ctx, "u1", "u2")
	req.NoError(err)

	// Given U1 says hello, which reaches U2 only
	f.emitter.EXPECT().EmitToUser("u2", eventNamed(model.EventMessageNew)).Times(1)
	msg, err := f.log.Append(ctx, "u1", &model.SendMessageRequest{ConversationID: dm.ID, Content: "  hello "})
	req.NoError(err)
	req.Equal("hello", msg.Content)
	req.Equal([]string{"u1"}, msg.SeenBy)
	req.Equal(model.MessageTypeText, msg.Type)
	req.True(msg.CreatedAt.Add(model.DefaultRetention).Equal(msg.ExpiresAt))

	// When U2 reads the conversation
	f.emitter.EXPECT().EmitToUser("u1", gomock.Any()).Do(func(_ string, evt model.Event) {
		req.Equal(model.EventMessageRead, evt.Name)
		payload, ok := evt.Data.(model.MessageReadPayload)
		req.True(ok)
		req.Equal("u2", payload.UserID)
		req.Equal(dm.ID, payload.ConversationID)
	}).Times(2)
	req.NoError(f.log.MarkRead(ctx, "u2", dm.ID))

	// Then seenBy holds both, once, even after a repeat
	req.NoError(f.log.MarkRead(ctx, "u2", dm.ID))
	stored, err := f.store.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.Equal([]string{"u1", "u2"}, stored.SeenBy)

	// And the conversation points at the message
	view, err := f.directory.Get(ctx, "u2", dm.ID)
	req.NoError(err)
	req.NotNil(view.LastMessage)
	req.Equal(msg.ID, view.LastMessage.ID)
	req.Len(view.ParticipantInfos, 2)
}

func Test_Append_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dm, err := f.directory.CreateOrGetDirect(ctx, "u1", "u2")
	require.NoError(t, err)

	tests := []struct {
		name   string
		sender string
		req    model.SendMessageRequest
		want   error
	}{
		{"blank content", "u1", model.SendMessageRequest{ConversationID: dm.ID, Content: " \n "}, model.ErrInvalidInput},
		{"malformed conversation", "u1", model.SendMessageRequest{ConversationID: "x", Content: "hi"}, model.ErrInvalidInput},
		{"unknown conversation", "u1", model.SendMessageRequest{ConversationID: newID(), Content: "hi"}, model.ErrNotFound},
		{"not a participant", "u3", model.SendMessageRequest{ConversationID: dm.ID, Content: "hi"}, model.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.log.Append(ctx, tt.sender, &tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func Test_Page_25_Messages(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	dm, err := f.directory.CreateOrGetDirect(ctx, "u1", "u2")
	req.NoError(err)

	f.emitter.EXPECT().EmitToUser("u2", gomock.Any()).Times(25)
	for i := 1; i <= 25; i++ {
		_, err := f.log.Append(ctx, "u1", &model.SendMessageRequest{ConversationID: dm.ID, Content: fmt.Sprintf("m%02d", i)})
		req.NoError(err)
	}

	first, err := f.log.Page(ctx, "u2", dm.ID, 1, 20)
	req.NoError(err)
	req.Equal(25, first.Total)
	req.Len(first.Messages, 20)
	req.Equal("m06", first.Messages[0].Content)
	req.Equal("m25", first.Messages[19].Content)
	req.NotNil(first.Messages[0].Sender)

	second, err := f.log.Page(ctx, "u2", dm.ID, 2, 20)
	req.NoError(err)
	req.Equal([]string{"m01", "m02", "m03", "m04", "m05"}, lo.Map(second.Messages, func(m model.Message, _ int) string { return m.Content }))

	clamped, err := f.log.Page(ctx, "u2", dm.ID, 0, 1000)
	req.NoError(err)
	req.Equal(1, clamped.Page)
	req.Equal(100, clamped.Limit)
	req.Len(clamped.Messages, 25)

	_, err = f.log.Page(ctx, "u3", dm.ID, 1, 20)
	req.ErrorIs(err, model.ErrForbidden)
}

func Test_Reactions_One_Per_User(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	g := f.trip(t)

	f.emitter.EXPECT().EmitToUser(gomock.Any(), eventNamed(model.EventMessageNew)).Times(2)
	msg, err := f.log.Append(ctx, "u1", &model.SendMessageRequest{ConversationID: g.ID, Content: "hello"})
	req.NoError(err)

	// Given two reactions from U2, each reaching U1 and U3
	f.emitter.EXPECT().EmitToUser(gomock.Any(), eventNamed(model.EventMessageReaction)).Times(4)
	_, err = f.log.SetReaction(ctx, "u2", msg.ID, "👍")
	req.NoError(err)
	reactions, err := f.log.SetReaction(ctx, "u2", msg.ID, "🎉")
	req.NoError(err)

	// Then exactly one entry holds the latest emoji
	req.Equal([]model.Reaction{{UserID: "u2", Emoji: "🎉"}}, reactions)

	// When it is cleared twice, only the first clear is announced
	f.emitter.EXPECT().EmitToUser(gomock.Any(), eventNamed(model.EventMessageReactionRemoved)).Times(2)
	reactions, err = f.log.ClearReaction(ctx, "u2", msg.ID)
	req.NoError(err)
	req.Empty(reactions)
	reactions, err = f.log.ClearReaction(ctx, "u2", msg.ID)
	req.NoError(err)
	req.Empty(reactions)

	_, err = f.log.SetReaction(ctx, "u2", msg.ID, " ")
	req.ErrorIs(err, model.ErrInvalidInput)
	_, err = f.log.SetReaction(ctx, "u9", msg.ID, "👍")
	req.ErrorIs(err, model.ErrForbidden)
	_, err = f.log.SetReaction(ctx, "u2", newID(), "👍")
	req.ErrorIs(err, model.ErrNotFound)
}

func Test_Concurrent_Reactions_Are_Not_Lost(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()

	members := []string{"u2", "u3", "u4", "u5", "u6"}
	g, err := f.directory.CreateGroup(ctx, "u1", &model.CreateGroupRequest{Name: "Crowd", Members: members})
	req.NoError(err)
	f.emitter.EXPECT().EmitToUser(gomock.Any(), gomock.Any()).AnyTimes()
	msg, err := f.log.Append(ctx, "u1", &model.SendMessageRequest{ConversationID: g.ID, Content: "vote"})
	req.NoError(err)

	var wg sync.WaitGroup
	for _, user := range members {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, _ = f.log.SetReaction(ctx, user, msg.ID, "👍")
		}(user)
	}
	wg.Wait()

	stored, err := f.store.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.ElementsMatch(members, lo.Map(stored.Reactions, func(r model.Reaction, _ int) string { return r.UserID }))
}

func Test_Journal_Failure_Does_Not_Fail_The_Mutation(t *testing.T) {
	req := require.New(t)
	journal := mocks.NewMockJournal(gomock.NewController(t))
	f := newFixture(t, journal)
	ctx := context.Background()
	dm, err := f.directory.CreateOrGetDirect(ctx, "u1", "u2")
	req.NoError(err)

	published := make(chan model.JournalRecord, 1)
	f.emitter.EXPECT().EmitToUser("u2", gomock.Any())
	journal.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec model.JournalRecord) error {
		published <- rec
		return errors.New("nats: no responders available for request")
	})

	_, err = f.log.Append(ctx, "u1", &model.SendMessageRequest{ConversationID: dm.ID, Content: "hello"})
	req.NoError(err)

	select {
	case rec := <-published:
		req.Equal(dm.ID, rec.ConversationID)
		req.Equal("u1", rec.ActorID)
		req.Equal([]string{"u2"}, rec.Recipients)
		req.Equal(model.EventMessageNew, rec.Event.Name)
	case <-time.After(2 * time.Second):
		req.Fail("record was never published")
	}
}

func Test_Slow_Journal_Does_Not_Block_The_Mutation(t *testing.T) {
	req := require.New(t)
	journal := mocks.NewMockJournal(gomock.NewController(t))
	// Given a journal that hangs until released, and room for a single queued record
	f := newFixtureWithQueue(t, journal, 1)
	ctx := context.Background()
	dm, err := f.directory.CreateOrGetDirect(ctx, "u1", "u2")
	req.NoError(err)

	release := make(chan struct{})
	calls := make(chan struct{}, 3)
	f.emitter.EXPECT().EmitToUser("u2", gomock.Any()).Times(3)
	journal.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ model.JournalRecord) error {
		calls <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}).MinTimes(1).MaxTimes(3)

	// When three messages are sent while the journal hangs
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 3; i++ {
			if _, err := f.log.Append(ctx, "u1", &model.SendMessageRequest{ConversationID: dm.ID, Content: fmt.Sprintf("m%d", i)}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	// Then every send returns without waiting for the journal
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		req.Fail("append blocked on the journal")
	}
	close(release)

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		req.Fail("journal was never called")
	}
}

func Test_ListForUser_Orders_By_Activity(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	req.NoError(f.store.PutAccount(ctx, model.UserSummary{ID: "u2", Username: "bob", Email: "bob@example.com"}))

	older, err := f.directory.CreateOrGetDirect(ctx, "u1", "u2")
	req.NoError(err)
	newer, err := f.directory.CreateOrGetDirect(ctx, "u1", "u3")
	req.NoError(err)

	f.emitter.EXPECT().EmitToUser("u2", gomock.Any())
	_, err = f.log.Append(ctx, "u1", &model.SendMessageRequest{ConversationID: older.ID, Content: "ping"})
	req.NoError(err)

	views, err := f.directory.ListForUser(ctx, "u1")
	req.NoError(err)
	req.Len(views, 2)
	req.Equal(older.ID, views[0].ID)
	req.Equal(newer.ID, views[1].ID)
	req.Equal("ping", views[0].LastMessage.Content)
	req.Nil(views[1].LastMessage)

	bob, ok := lo.Find(views[0].ParticipantInfos, func(u model.UserSummary) bool { return u.ID == "u2" })
	req.True(ok)
	req.Equal("bob", bob.Username)
}
