package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/suPer8Hu/testerhub/internal/chat"
	"github.com/suPer8Hu/testerhub/internal/common"
	"github.com/suPer8Hu/testerhub/internal/httpapi/middleware"
	"github.com/suPer8Hu/testerhub/internal/profile"
)

// writeChatError maps chat errors onto the response envelope.
func writeChatError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrNotParticipant):
		common.Fail(c, http.StatusForbidden, 40301, "not a participant of this conversation")
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
	case errors.Is(err, chat.ErrInvalidInput):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	default:
		jww.ERROR.Printf("[%s] request_id=%s err=%v", op, c.GetString(middleware.RequestIDKey), err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

type startChatReq struct {
	TargetUID string `json:"target_uid" binding:"required"`
}

func (h *Handler) StartChat(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req startChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if target := strings.TrimSpace(req.TargetUID); target != "" && target != uid {
		if _, err := h.Profiles.Get(c.Request.Context(), target); err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				common.Fail(c, http.StatusNotFound, 40403, "target user not found")
				return
			}
			jww.ERROR.Printf("[StartChat] target lookup failed uid=%s target=%s err=%v", uid, target, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "failed to start chat")
			return
		}
	}

	id, created, err := h.Chat.StartConversation(c.Request.Context(), uid, req.TargetUID, nil)
	if err != nil {
		writeChatError(c, "StartChat", err)
		return
	}
	common.OK(c, gin.H{"conversation_id": id, "created": created})
}

type startGroupReq struct {
	Name      string   `json:"name" binding:"required"`
	MemberIDs []string `json:"member_ids" binding:"required"`
}

func (h *Handler) StartGroup(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req startGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	conv, err := h.Chat.StartGroup(c.Request.Context(), uid, req.MemberIDs, req.Name)
	if err != nil {
		writeChatError(c, "StartGroup", err)
		return
	}
	common.OK(c, gin.H{"conversation": conv})
}

func (h *Handler) ListChats(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	entries, err := h.Chat.ListIndex(c.Request.Context(), uid)
	if err != nil {
		writeChatError(c, "ListChats", err)
		return
	}
	common.OK(c, gin.H{"chats": entries})
}

func (h *Handler) OpenChat(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.Chat.OpenConversation(c.Request.Context(), uid, c.Param("conversation_id"))
	if err != nil {
		writeChatError(c, "OpenChat", err)
		return
	}
	common.OK(c, view)
}

// ListChatMessages pages history older than (before_ts, before_id).
func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	beforeTS, err := strconv.ParseInt(c.Query("before_ts"), 10, 64)
	if err != nil || beforeTS <= 0 {
		common.Fail(c, http.StatusBadRequest, 10003, "before_ts required")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	msgs, err := h.Chat.LoadOlder(c.Request.Context(), uid, c.Param("conversation_id"), beforeTS, c.Query("before_id"), limit)
	if err != nil {
		writeChatError(c, "ListChatMessages", err)
		return
	}

	resp := gin.H{"messages": msgs}
	if len(msgs) > 0 {
		resp["next_before_ts"] = msgs[0].Timestamp
		resp["next_before_id"] = msgs[0].ID
	}
	common.OK(c, resp)
}

type sendMessageReq struct {
	Text string `json:"text"`
}

// SendChatMessage answers sent=false for blank text.
func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	msg, err := h.Chat.SendMessage(c.Request.Context(), chat.SendInput{
		ConversationID: c.Param("conversation_id"),
		SenderUID:      uid,
		Text:           req.Text,
	})
	if err != nil {
		writeChatError(c, "SendChatMessage", err)
		return
	}
	if msg == nil {
		common.OK(c, gin.H{"sent": false})
		return
	}
	common.OK(c, gin.H{"sent": true, "message": msg})
}
