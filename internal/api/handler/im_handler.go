package handler

import (
	"Rendezvous/internal/api/dto"
	"Rendezvous/internal/api/middleware"
	"Rendezvous/internal/event"
	"Rendezvous/internal/pkg/response"
	"Rendezvous/internal/pkg/util"
	"Rendezvous/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	pkgerrors "github.com/pkg/errors"
)

type IMHandler struct {
	imService       service.IMService
	presenceService service.PresenceService
}

func NewIMHandler(imService service.IMService, presenceService service.PresenceService) *IMHandler {
	return &IMHandler{imService: imService, presenceService: presenceService}
}

// SendMessage 发送消息接口
func (s *IMHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrValidation)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, pkgerrors.WithMessage(service.ErrValidation, err.Error()))
		return
	}

	attachments := make([]event.Attachment, 0, len(req.Attachments))
	_ = copier.Copy(&attachments, &req.Attachments)

	msg, err := s.imService.SendMessage(c.Request.Context(), &service.SendRequest{
		ConversationID: req.ConversationID,
		SenderID:       c.GetString(middleware.CtxUserID),
		RecipientID:    req.RecipientID,
		Content:        req.Content,
		Attachments:    attachments,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// ListMessages 获取历史消息，?after= 增量拉取，?before= 向前翻页
func (s *IMHandler) ListMessages(c *gin.Context) {
	var q dto.ListMessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, service.ErrValidation)
		return
	}
	if err := util.ValidateDTO(&q); err != nil {
		response.Error(c, pkgerrors.WithMessage(service.ErrValidation, err.Error()))
		return
	}

	list, err := s.imService.ListMessages(c.Request.Context(),
		c.GetString(middleware.CtxUserID), c.Param("id"), q.After, q.Before, q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// MarkMessageRead 单条已读
func (s *IMHandler) MarkMessageRead(c *gin.Context) {
	if !util.IsObjectID(c.Param("id")) {
		response.Error(c, pkgerrors.WithMessage(service.ErrValidation, "invalid message id"))
		return
	}
	res, err := s.presenceService.MarkMessageRead(c.Request.Context(),
		c.GetString(middleware.CtxUserID), "", c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toReadResultDTO(res))
}

// MarkConversationRead 批量已读
func (s *IMHandler) MarkConversationRead(c *gin.Context) {
	var req dto.MarkConversationReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrValidation)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, pkgerrors.WithMessage(service.ErrValidation, err.Error()))
		return
	}

	res, err := s.presenceService.MarkRead(c.Request.Context(),
		c.GetString(middleware.CtxUserID), "", c.Param("id"), req.UptoMessageID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toReadResultDTO(res))
}

// Unread 未读总数
func (s *IMHandler) Unread(c *gin.Context) {
	n, err := s.imService.TotalUnread(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.UnreadDTO{UnreadCount: n})
}

// Conversations 获取会话列表
func (s *IMHandler) Conversations(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	list, err := s.imService.Conversations(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	res := make([]*dto.ConversationDTO, 0, len(list))
	for _, item := range list {
		d := &dto.ConversationDTO{}
		_ = copier.Copy(d, item.Conversation)
		d.ConversationID = item.Conversation.ID
		d.PeerID = item.Conversation.PeerOf(userID)
		d.UnreadCount = item.Unread
		res = append(res, d)
	}
	response.Success(c, res)
}

// DeleteConversation 删除会话
func (s *IMHandler) DeleteConversation(c *gin.Context) {
	err := s.imService.DeleteConversation(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func toReadResultDTO(res *service.ReadResult) *dto.ReadResultDTO {
	out := &dto.ReadResultDTO{}
	_ = copier.Copy(out, res)
	if out.MessageIDs == nil {
		out.MessageIDs = []string{}
	}
	return out
}
