package client

import (
	"Rendezvous/internal/event"
	"sort"
	"sync"
)

// History 每个会话按 seq 有序的本地消息列表，按 id 去重
type History struct {
	mu    sync.RWMutex
	convs map[string]*conversationLog
}

type conversationLog struct {
	msgs []*event.Message
	ids  map[string]struct{}
}

func NewHistory() *History {
	return &History{convs: make(map[string]*conversationLog)}
}

// Merge 合并实时事件或补拉结果，重放的消息被忽略，返回新增条数
func (h *History) Merge(msgs ...*event.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	added := 0
	touched := make(map[string]struct{})
	for _, m := range msgs {
		if m == nil || m.ID == "" {
			continue
		}
		cl, ok := h.convs[m.ConversationID]
		if !ok {
			cl = &conversationLog{ids: make(map[string]struct{})}
			h.convs[m.ConversationID] = cl
		}
		if _, dup := cl.ids[m.ID]; dup {
			continue
		}
		cl.ids[m.ID] = struct{}{}
		cl.msgs = append(cl.msgs, m)
		touched[m.ConversationID] = struct{}{}
		added++
	}

	for id := range touched {
		msgs := h.convs[id].msgs
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	}
	return added
}

// Messages 返回副本
func (h *History) Messages(conversationID string) []*event.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cl, ok := h.convs[conversationID]
	if !ok {
		return nil
	}
	out := make([]*event.Message, len(cl.msgs))
	copy(out, cl.msgs)
	return out
}

// LastSeq 重连后从这里之后补拉
func (h *History) LastSeq(conversationID string) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cl, ok := h.convs[conversationID]
	if !ok || len(cl.msgs) == 0 {
		return 0
	}
	return cl.msgs[len(cl.msgs)-1].Seq
}

// Last 最新一条消息
func (h *History) Last(conversationID string) *event.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cl, ok := h.convs[conversationID]
	if !ok || len(cl.msgs) == 0 {
		return nil
	}
	return cl.msgs[len(cl.msgs)-1]
}

func (h *History) Remove(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.convs, conversationID)
}
