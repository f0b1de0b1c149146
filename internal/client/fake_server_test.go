package client

import (
	"Rendezvous/internal/api/dto"
	"Rendezvous/internal/event"
	"Rendezvous/internal/pkg/consts"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// fakeIM 模拟消息服务的 REST 与 WS 端点
type fakeIM struct {
	srv *httptest.Server

	mu       sync.Mutex
	messages map[string][]*event.Message
	unread   int64
	joins    []string // sessionID/conversationID
	conns    []*fakeWS
	sessions int
	restSend int
	reads    []string // conversationID/uptoMessageID
	closedTo map[string]bool
}

// fakeWS gorilla 连接不支持并发写
type fakeWS struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *fakeWS) send(typ string, data interface{}) {
	ev, _ := event.New(typ, data)
	raw, _ := json.Marshal(ev)
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteMessage(websocket.TextMessage, raw)
}

func newFakeIM(t *testing.T) *fakeIM {
	f := &fakeIM{messages: make(map[string][]*event.Message), closedTo: make(map[string]bool)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/im/ws", f.serveWS)
	mux.HandleFunc("/api/messages/unread", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		n := f.unread
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, "success", dto.UnreadDTO{UnreadCount: n})
	})
	mux.HandleFunc("/api/messages/conversation/", f.serveConversation)
	mux.HandleFunc("/api/messages", f.serveSend)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIM) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/im/ws"
}

func (f *fakeIM) store(m *event.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.ConversationID] = append(f.messages[m.ConversationID], m)
}

func (f *fakeIM) nextMessage(conv, sender, content string) *event.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := uint64(len(f.messages[conv]) + 1)
	m := &event.Message{ID: fmt.Sprintf("%s-%d", conv, seq), ConversationID: conv, SenderID: sender, Content: content, Seq: seq, ReadBy: []string{}}
	f.messages[conv] = append(f.messages[conv], m)
	return m
}

func (f *fakeIM) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins)
}

func (f *fakeIM) readCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reads...)
}

func (f *fakeIM) restSends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restSend
}

// dropAll 模拟网络中断
func (f *fakeIM) dropAll() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, c := range conns {
		_ = c.conn.Close()
	}
}

func (f *fakeIM) push(typ string, data interface{}) {
	f.mu.Lock()
	conns := append([]*fakeWS{}, f.conns...)
	f.mu.Unlock()
	for _, c := range conns {
		c.send(typ, data)
	}
}

func (f *fakeIM) serveWS(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer good" {
		writeEnvelope(w, http.StatusUnauthorized, "未登录或凭据无效", nil)
		return
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ws := &fakeWS{conn: conn}
	f.mu.Lock()
	f.sessions++
	sessionID := "s-" + strconv.Itoa(f.sessions)
	f.conns = append(f.conns, ws)
	f.mu.Unlock()

	send := ws.send
	send(consts.EventConnected, event.Connected{SessionID: sessionID, UserID: "cust"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev event.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case consts.EventJoinRoom:
			var req event.RoomReq
			_ = ev.Decode(&req)
			f.mu.Lock()
			f.joins = append(f.joins, sessionID+"/"+req.ConversationID)
			f.mu.Unlock()
			send(consts.EventJoined, event.Room{ConversationID: req.ConversationID})
		case consts.EventSendMessage:
			var req event.SendMessageReq
			_ = ev.Decode(&req)
			f.mu.Lock()
			closed := f.closedTo[req.ConversationID]
			f.mu.Unlock()
			if closed {
				send(consts.EventError, event.Error{Code: 403, Message: "预约已关闭，无法发送消息", ClientRef: req.ClientRef})
				continue
			}
			m := f.nextMessage(req.ConversationID, "cust", req.Content)
			send(consts.EventMessageAck, event.MessageAck{ClientRef: req.ClientRef, Message: m})
		}
	}
}

func (f *fakeIM) serveConversation(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/messages/conversation/")
	switch {
	case r.Method == http.MethodGet:
		if rest == "secret" {
			writeEnvelope(w, http.StatusForbidden, "不是该会话的参与者", nil)
			return
		}
		after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
		f.mu.Lock()
		out := make([]*event.Message, 0)
		for _, m := range f.messages[rest] {
			if m.Seq > after {
				out = append(out, m)
			}
		}
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, "success", out)
	case r.Method == http.MethodPut && strings.HasSuffix(rest, "/read"):
		var req dto.MarkConversationReadReq
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.reads = append(f.reads, strings.TrimSuffix(rest, "/read")+"/"+req.UptoMessageID)
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, "success", dto.ReadResultDTO{ConversationID: strings.TrimSuffix(rest, "/read"), ReadMsgID: req.UptoMessageID, MessageIDs: []string{}})
	case r.Method == http.MethodDelete:
		writeEnvelope(w, http.StatusServiceUnavailable, "存储暂时不可用，请重试", nil)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeIM) serveSend(w http.ResponseWriter, r *http.Request) {
	var req dto.SendMessageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeEnvelope(w, http.StatusBadRequest, "参数错误", nil)
		return
	}
	f.mu.Lock()
	f.restSend++
	f.mu.Unlock()
	writeEnvelope(w, http.StatusCreated, "success", f.nextMessage(req.ConversationID, "cust", req.Content))
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": status, "message": message, "data": data})
}
