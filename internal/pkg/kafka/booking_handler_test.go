package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeCall struct {
	id     string
	closed bool
}

type fakeCloser struct {
	mu    sync.Mutex
	calls []closeCall
	fails int
}

func (f *fakeCloser) SetClosed(_ context.Context, id string, closed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("mysql down")
	}
	f.calls = append(f.calls, closeCall{id: id, closed: closed})
	return nil
}

type fakeRooms struct {
	closed []string
}

func (f *fakeRooms) CloseRoom(id string) { f.closed = append(f.closed, id) }

type fakeMarker struct {
	marked []*sarama.ConsumerMessage
}

func (f *fakeMarker) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	f.marked = append(f.marked, msg)
}

func bookingMsg(offset int64, key, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "booking-events", Offset: offset, Key: []byte(key), Value: []byte(value)}
}

func TestBookingHandlerLogic(t *testing.T) {
	closer := &fakeCloser{}
	rooms := &fakeRooms{}
	h := NewBookingHandler(closer, rooms)
	ctx := context.Background()

	require.NoError(t, h.logic(ctx, bookingMsg(1, "bk-1", `{"bookingId":"bk-1","type":"cancelled"}`)))
	require.NoError(t, h.logic(ctx, bookingMsg(2, "bk-2", `{"bookingId":"bk-2","type":"completed"}`)))
	require.NoError(t, h.logic(ctx, bookingMsg(3, "bk-1", `{"bookingId":"bk-1","type":"reactivated"}`)))

	assert.Equal(t, []closeCall{{"bk-1", true}, {"bk-2", true}, {"bk-1", false}}, closer.calls)
	assert.Equal(t, []string{"bk-1", "bk-2"}, rooms.closed)
}

func TestBookingHandlerSkipsMalformed(t *testing.T) {
	closer := &fakeCloser{}
	h := NewBookingHandler(closer, nil)
	ctx := context.Background()

	assert.NoError(t, h.logic(ctx, bookingMsg(1, "", `{not json`)))
	assert.NoError(t, h.logic(ctx, bookingMsg(2, "bk-1", `{"type":"cancelled"}`)))
	assert.NoError(t, h.logic(ctx, bookingMsg(3, "bk-1", `{"bookingId":"bk-1","type":"rescheduled"}`)))
	assert.Empty(t, closer.calls)
}

func TestBookingHandlerPropagatesStorageError(t *testing.T) {
	closer := &fakeCloser{fails: 1}
	rooms := &fakeRooms{}
	h := NewBookingHandler(closer, rooms)

	err := h.logic(context.Background(), bookingMsg(1, "bk-1", `{"bookingId":"bk-1","type":"cancelled"}`))
	assert.Error(t, err)
	assert.Empty(t, rooms.closed)
}

func TestProcessBatchKeepsPerKeyOrderAndRetries(t *testing.T) {
	closer := &fakeCloser{fails: 1}
	h := NewBookingHandler(closer, nil)
	marker := &fakeMarker{}

	batch := []*sarama.ConsumerMessage{
		bookingMsg(10, "bk-1", `{"bookingId":"bk-1","type":"cancelled"}`),
		bookingMsg(11, "bk-1", `{"bookingId":"bk-1","type":"reactivated"}`),
		bookingMsg(12, "bk-1", `{"bookingId":"bk-1","type":"completed"}`),
	}
	processBatch(context.Background(), marker, batch, h.logic)

	assert.Equal(t, []closeCall{{"bk-1", true}, {"bk-1", false}, {"bk-1", true}}, closer.calls)
	require.Len(t, marker.marked, 1)
	assert.EqualValues(t, 12, marker.marked[0].Offset)
}

func TestProcessBatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	marker := &fakeMarker{}

	processBatch(ctx, marker, []*sarama.ConsumerMessage{bookingMsg(1, "k", "")},
		func(context.Context, *sarama.ConsumerMessage) error { return errors.New("boom") })

	assert.Empty(t, marker.marked)
}
