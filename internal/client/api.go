package client

import (
	"Rendezvous/internal/api/dto"
	"Rendezvous/internal/event"
	"Rendezvous/internal/service"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	pkgerrors "github.com/pkg/errors"
)

// envelope 服务端统一响应 {code, message, data}
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// API 消息服务的 REST 客户端，实时通道不可用时的兜底路径
type API struct {
	http *resty.Client
}

func NewAPI(baseURL, token string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(token).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// 只重试幂等请求
			if r != nil && r.Request != nil && r.Request.Method == http.MethodPost {
				return false
			}
			return err != nil || r.StatusCode() == http.StatusServiceUnavailable
		})
	return &API{http: c}
}

// Send 通过 REST 发送消息
func (a *API) Send(ctx context.Context, conversationID, recipientID, content string) (*event.Message, error) {
	var msg event.Message
	err := a.do(ctx, http.MethodPost, "/api/messages", dto.SendMessageReq{
		ConversationID: conversationID,
		RecipientID:    recipientID,
		Content:        content,
	}, nil, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// History 拉取 afterSeq 之后的消息，按 seq 升序
func (a *API) History(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]*event.Message, error) {
	query := map[string]string{"after": strconv.FormatUint(afterSeq, 10)}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	var list []*event.Message
	if err := a.do(ctx, http.MethodGet, "/api/messages/conversation/"+conversationID, nil, query, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// HistoryBefore 向前翻页
func (a *API) HistoryBefore(ctx context.Context, conversationID string, beforeSeq uint64, limit int) ([]*event.Message, error) {
	query := map[string]string{"before": strconv.FormatUint(beforeSeq, 10)}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	var list []*event.Message
	if err := a.do(ctx, http.MethodGet, "/api/messages/conversation/"+conversationID, nil, query, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (a *API) MarkConversationRead(ctx context.Context, conversationID, uptoMessageID string) (*dto.ReadResultDTO, error) {
	var out dto.ReadResultDTO
	err := a.do(ctx, http.MethodPut, "/api/messages/conversation/"+conversationID+"/read",
		dto.MarkConversationReadReq{UptoMessageID: uptoMessageID}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) MarkMessageRead(ctx context.Context, messageID string) (*dto.ReadResultDTO, error) {
	var out dto.ReadResultDTO
	if err := a.do(ctx, http.MethodPut, "/api/messages/"+messageID+"/read", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unread 服务端权威未读总数
func (a *API) Unread(ctx context.Context) (int64, error) {
	var out dto.UnreadDTO
	if err := a.do(ctx, http.MethodGet, "/api/messages/unread", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (a *API) Conversations(ctx context.Context) ([]*dto.ConversationDTO, error) {
	var list []*dto.ConversationDTO
	if err := a.do(ctx, http.MethodGet, "/api/messages/conversations", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (a *API) DeleteConversation(ctx context.Context, conversationID string) error {
	return a.do(ctx, http.MethodDelete, "/api/messages/conversation/"+conversationID, nil, nil, nil)
}

func (a *API) do(ctx context.Context, method, path string, body interface{}, query map[string]string, out interface{}) error {
	var env envelope
	req := a.http.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env)
	if body != nil {
		req.SetBody(body)
	}
	if query != nil {
		req.SetQueryParams(query)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return pkgerrors.WithMessage(service.ErrTransient, err.Error())
	}
	if resp.IsError() {
		return statusError(resp.StatusCode(), env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.WithMessage(service.ErrTransient, "decode response: "+err.Error())
	}
	return nil
}

// statusError 按状态码还原错误分类
func statusError(status int, message string) error {
	var target error
	switch status {
	case http.StatusBadRequest:
		target = service.ErrValidation
	case http.StatusUnauthorized:
		target = service.ErrUnauthenticated
	case http.StatusForbidden:
		target = service.ErrForbidden
		if message == service.ErrConversationClosed.Error() {
			target = service.ErrConversationClosed
		}
	case http.StatusNotFound:
		target = service.ErrNotFound
	default:
		target = service.ErrTransient
	}
	if message == "" || message == target.Error() {
		return target
	}
	return pkgerrors.WithMessage(target, message)
}
