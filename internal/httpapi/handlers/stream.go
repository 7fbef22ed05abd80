package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/suPer8Hu/testerhub/internal/chat"
	"github.com/suPer8Hu/testerhub/internal/common"
)

const (
	heartbeatInterval = 15 * time.Second
	wsReadTimeout     = 60 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

// offerLatest replaces whatever is pending in ch with v. Each value is a
// full snapshot, so only the newest matters.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// StreamChats is the SSE feed of the caller's chat list: one "index" event
// with the full sorted list on connect and after every change.
func (h *Handler) StreamChats(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	flusher, canFlush := c.Writer.(http.Flusher)
	if !canFlush {
		common.Fail(c, http.StatusInternalServerError, 50004, "streaming not supported")
		return
	}

	ctx := c.Request.Context()
	snapshots := make(chan []chat.IndexEntry, 1)
	failures := make(chan error, 1)
	sub := h.Chat.SubscribeIndex(uid,
		func(entries []chat.IndexEntry) { offerLatest(snapshots, entries) },
		func(err error) { offerLatest(failures, err) },
	)
	if err := sub.Start(ctx); err != nil {
		writeChatError(c, "StreamChats", err)
		return
	}
	defer sub.Stop()

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case entries := <-snapshots:
			writeJSON("index", gin.H{"type": "index", "chats": entries})
		case err := <-failures:
			jww.WARN.Printf("[StreamChats] uid=%s err=%v", uid, err)
			writeJSON("error", gin.H{"type": "error", "message": "failed to load chats"})
		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
		case <-ctx.Done():
			return
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type stateFrame struct {
	Type     string         `json:"type"`
	Loading  bool           `json:"loading"`
	Messages []chat.Message `json:"messages"`
	Error    string         `json:"error,omitempty"`
}

type ackFrame struct {
	Type    string        `json:"type"`
	Sent    bool          `json:"sent"`
	Message *chat.Message `json:"message,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ConversationSocket streams a conversation over a WebSocket. The server
// sends "state" frames with the merged message list; the client may send
// {"type":"message","text":...} frames to post.
func (h *Handler) ConversationSocket(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	conversationID := c.Param("conversation_id")

	// membership is checked before the upgrade so errors use the envelope
	if _, err := h.Chat.OpenConversation(c.Request.Context(), uid, conversationID); err != nil {
		writeChatError(c, "ConversationSocket", err)
		return
	}

	ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	states := make(chan chat.StreamState, 1)
	stream := h.Chat.NewMessageStream(conversationID, func(s chat.StreamState) { offerLatest(states, s) })
	if err := stream.Start(ctx); err != nil {
		writeFrame(ws, errorFrame{Type: "error", Code: "load_failed", Error: "failed to load messages"})
		return
	}
	defer stream.Stop()

	inbound := make(chan inboundFrame)
	go readFrames(ctx, ws, inbound)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case s := <-states:
			f := stateFrame{Type: "state", Loading: s.Loading, Messages: s.Messages}
			if s.Err != nil {
				f.Error = "failed to load messages"
			}
			if err := writeFrame(ws, f); err != nil {
				return
			}

		case f, open := <-inbound:
			if !open {
				return
			}
			if f.Type != "message" {
				_ = writeFrame(ws, errorFrame{Type: "error", Code: "unsupported_type", Error: "unknown frame type"})
				continue
			}
			msg, err := h.Chat.SendMessage(ctx, chat.SendInput{ConversationID: conversationID, SenderUID: uid, Text: f.Text})
			if err != nil {
				jww.WARN.Printf("[ConversationSocket] send failed uid=%s conversation=%s err=%v", uid, conversationID, err)
				_ = writeFrame(ws, errorFrame{Type: "error", Code: "send_failed", Error: "failed to send message"})
				continue
			}
			_ = writeFrame(ws, ackFrame{Type: "sent", Sent: msg != nil, Message: msg})

		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// readFrames is the connection's only reader. It closes out when the peer
// goes away.
func readFrames(ctx context.Context, ws *websocket.Conn, out chan<- inboundFrame) {
	defer close(out)

	ws.SetReadLimit(1 << 16)
	_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				jww.DEBUG.Printf("[ConversationSocket] read ended err=%v", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			f = inboundFrame{Type: "invalid"}
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return
		}
	}
}

func writeFrame(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteJSON(v)
}
