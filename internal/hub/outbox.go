package hub

import (
	"Rendezvous/internal/event"
	"errors"
	"sync"
	"time"
)

var (
	errOutboxFull   = errors.New("outbox full")
	errOutboxClosed = errors.New("outbox closed")
)

type offerResult int

const (
	offerAccepted offerResult = iota
	// offerDropped 输入状态被丢弃，不算失败
	offerDropped
	offerFull
	offerClosed
)

// outbox 会话出站队列，容量固定
// 输入状态事件可被挤掉，其余事件队列满时由调用方等待写协程腾出空间
type outbox struct {
	mu     sync.Mutex
	items  []event.Frame
	limit  int
	closed bool
	ready  chan struct{} // 非空通知，容量 1
	space  chan struct{} // 每次出队后关闭并重建，等待方据此重试
}

func newOutbox(limit int) *outbox {
	if limit <= 0 {
		limit = 256
	}
	return &outbox{
		items: make([]event.Frame, 0, limit),
		limit: limit,
		ready: make(chan struct{}, 1),
		space: make(chan struct{}),
	}
}

// offer 非阻塞入队，满时返回当前的 space 通道
func (o *outbox) offer(f event.Frame) (offerResult, <-chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return offerClosed, nil
	}
	if len(o.items) < o.limit {
		o.append(f)
		return offerAccepted, nil
	}

	idx := o.oldestEphemeral()
	if f.Ephemeral() {
		if idx < 0 {
			return offerDropped, nil
		}
		o.remove(idx)
		o.append(f)
		return offerAccepted, nil
	}

	if idx >= 0 {
		o.remove(idx)
		o.append(f)
		return offerAccepted, nil
	}
	return offerFull, o.space
}

// push 入队，队列满时最多等待 timeout
func (o *outbox) push(f event.Frame, timeout time.Duration) error {
	res, space := o.offer(f)
	switch res {
	case offerAccepted, offerDropped:
		return nil
	case offerClosed:
		return errOutboxClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-space:
		case <-timer.C:
			return errOutboxFull
		}
		res, space = o.offer(f)
		switch res {
		case offerAccepted, offerDropped:
			return nil
		case offerClosed:
			return errOutboxClosed
		}
	}
}

// pop 非阻塞出队
func (o *outbox) pop() (event.Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.items) == 0 {
		return event.Frame{}, false
	}
	f := o.items[0]
	o.items[0] = event.Frame{}
	o.items = o.items[1:]

	close(o.space)
	o.space = make(chan struct{})

	if len(o.items) > 0 {
		o.signal()
	}
	return f, true
}

// close 关闭队列并唤醒所有等待方
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.items = nil
	close(o.space)
	o.space = make(chan struct{})
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func (o *outbox) append(f event.Frame) {
	o.items = append(o.items, f)
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *outbox) oldestEphemeral() int {
	for i, it := range o.items {
		if it.Ephemeral() {
			return i
		}
	}
	return -1
}

func (o *outbox) remove(i int) {
	copy(o.items[i:], o.items[i+1:])
	o.items[len(o.items)-1] = event.Frame{}
	o.items = o.items[:len(o.items)-1]
}
