package client

import (
	"Rendezvous/internal/event"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, conv, sender string, seq uint64) *event.Message {
	return &event.Message{ID: id, ConversationID: conv, SenderID: sender, Seq: seq, Content: id}
}

func TestHistoryMergeDeduplicatesReplays(t *testing.T) {
	h := NewHistory()

	assert.Equal(t, 2, h.Merge(msg("m1", "bk-1", "cust", 1), msg("m2", "bk-1", "prov", 2)))
	// 重连补拉与实时事件重叠
	assert.Equal(t, 1, h.Merge(msg("m2", "bk-1", "prov", 2), msg("m3", "bk-1", "cust", 3)))
	assert.Equal(t, 0, h.Merge(msg("m1", "bk-1", "cust", 1)))

	list := h.Messages("bk-1")
	require.Len(t, list, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.EqualValues(t, 3, h.LastSeq("bk-1"))
}

func TestHistoryKeepsSeqOrderOnOutOfOrderArrival(t *testing.T) {
	h := NewHistory()
	h.Merge(msg("m3", "bk-1", "cust", 3))
	h.Merge(msg("m1", "bk-1", "cust", 1), msg("m2", "bk-1", "cust", 2))

	list := h.Messages("bk-1")
	require.Len(t, list, 3)
	for i, m := range list {
		assert.EqualValues(t, i+1, m.Seq)
	}
	assert.Equal(t, "m3", h.Last("bk-1").ID)
}

func TestHistorySeparatesConversationsAndRemove(t *testing.T) {
	h := NewHistory()
	h.Merge(msg("a", "bk-1", "cust", 1), msg("b", "bk-2", "cust", 1), nil, &event.Message{})

	assert.Len(t, h.Messages("bk-1"), 1)
	assert.Len(t, h.Messages("bk-2"), 1)

	h.Remove("bk-1")
	assert.Nil(t, h.Messages("bk-1"))
	assert.Zero(t, h.LastSeq("bk-1"))
	assert.Nil(t, h.Last("bk-1"))
}
