package service

import (
	"Rendezvous/internal/event"
	"Rendezvous/internal/pkg/consts"
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkRead_NotifiesReaderSessionsOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m1 := send(t, f, "cust", "bk-1", "one")
	m2 := send(t, f, "cust", "bk-1", "two")

	var got []ReadEvent
	unsubscribe := f.presence.Subscribe(func(ev ReadEvent) { got = append(got, ev) })

	res, err := f.presence.MarkRead(ctx, "prov", "sess-b1", "bk-1", m2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{m1.ID, m2.ID}, res.MessageIDs)
	assert.Equal(t, uint64(2), res.ReadSeq)

	receipts := f.bc.ofType(consts.EventMessagesMarkedRead)
	require.Len(t, receipts, 1)
	assert.True(t, receipts[0].toUser)
	assert.Equal(t, "prov", receipts[0].target)

	var payload event.MarkedRead
	require.NoError(t, receipts[0].ev.Decode(&payload))
	assert.Equal(t, "sess-b1", payload.OriginSessionID)
	assert.Equal(t, "prov", payload.ReadBy)

	require.Len(t, got, 1)
	assert.Equal(t, "bk-1", got[0].ConversationID)

	unsubscribe()
	_, err = f.presence.MarkRead(ctx, "prov", "sess-b1", "bk-1", m2.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMarkRead_Authorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := send(t, f, "cust", "bk-1", "one")
	other := send(t, f, "cust", "bk-2", "elsewhere")

	_, err := f.presence.MarkRead(ctx, "eve", "", "bk-1", m.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.presence.MarkRead(ctx, "prov", "", "bk-1", other.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.presence.MarkRead(ctx, "prov", "", "bk-1", "000000000000000000000000")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.presence.MarkMessageRead(ctx, "eve", "", m.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMarkRead_PointerMonotonicUnderConcurrency(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	var ids []string
	for i := 0; i < 30; i++ {
		ids = append(ids, send(t, f, "cust", "bk-1", "m").ID)
	}

	order := rand.Perm(len(ids))
	var wg sync.WaitGroup
	for _, idx := range order {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.presence.MarkRead(ctx, "prov", "", "bk-1", id)
			assert.NoError(t, err)
		}(ids[idx])
	}
	wg.Wait()

	ptr, err := f.pointers.GetReadPointer(ctx, "bk-1", "prov")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), ptr.ReadMsgSeq)
	assert.Equal(t, ids[29], ptr.ReadMsgID)

	// 回退不生效
	res, err := f.presence.MarkRead(ctx, "prov", "", "bk-1", ids[3])
	require.NoError(t, err)
	assert.Equal(t, uint64(30), res.ReadSeq)
	assert.Empty(t, res.MessageIDs)

	n, err := f.store.UnreadCount(ctx, "bk-1", "prov")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetTyping_RequiresMembershipAndExpires(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.ErrorIs(t, f.presence.SetTyping(ctx, "sess-a", "cust", "bk-1", true, "Alice"), ErrForbidden)

	f.bc.join("sess-a", "bk-1")
	require.NoError(t, f.presence.SetTyping(ctx, "sess-a", "cust", "bk-1", true, "Alice"))

	typing := f.bc.ofType(consts.EventTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, "sess-a", typing[0].except)

	assert.Zero(t, f.presence.ExpireTyping(ctx, time.Now()))
	assert.Equal(t, 1, f.presence.ExpireTyping(ctx, time.Now().Add(time.Second)))
	assert.Zero(t, f.presence.ExpireTyping(ctx, time.Now().Add(time.Second)))

	typing = f.bc.ofType(consts.EventTyping)
	require.Len(t, typing, 2)
	var payload event.Typing
	require.NoError(t, typing[1].ev.Decode(&payload))
	assert.False(t, payload.IsTyping)
	assert.Equal(t, "cust", payload.UserID)
	assert.Equal(t, "Alice", payload.UserName)
}

func TestSetTyping_ExplicitStopClearsState(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.bc.join("sess-a", "bk-1")

	require.NoError(t, f.presence.SetTyping(ctx, "sess-a", "cust", "bk-1", true, ""))
	require.NoError(t, f.presence.SetTyping(ctx, "sess-a", "cust", "bk-1", false, ""))
	assert.Zero(t, f.presence.ExpireTyping(ctx, time.Now().Add(time.Minute)))
	assert.Len(t, f.bc.ofType(consts.EventTyping), 2)
}

func TestClearSession_RevokesOnlyThatSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.bc.join("sess-a", "bk-1")
	f.bc.join("sess-b", "bk-1")

	require.NoError(t, f.presence.SetTyping(ctx, "sess-a", "cust", "bk-1", true, "Alice"))
	require.NoError(t, f.presence.SetTyping(ctx, "sess-b", "prov", "bk-1", true, "Bob"))

	assert.Equal(t, 1, f.presence.ClearSession(ctx, "sess-a"))
	assert.Zero(t, f.presence.ClearSession(ctx, "sess-a"))

	typing := f.bc.ofType(consts.EventTyping)
	require.Len(t, typing, 3)
	var payload event.Typing
	require.NoError(t, typing[2].ev.Decode(&payload))
	assert.Equal(t, "cust", payload.UserID)
	assert.False(t, payload.IsTyping)

	assert.Equal(t, 1, f.presence.ExpireTyping(ctx, time.Now().Add(time.Minute)))
}
