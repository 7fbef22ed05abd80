package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/suPer8Hu/testerhub/internal/realtime"
)

// MessageList holds a conversation's messages deduplicated by id and
// ordered by timestamp, then id. It is not safe for concurrent use.
type MessageList struct {
	ids  map[string]struct{}
	msgs []Message
}

func NewMessageList() *MessageList {
	return &MessageList{ids: make(map[string]struct{})}
}

// Merge adds unseen messages and reports how many were added.
func (l *MessageList) Merge(msgs ...Message) int {
	added := 0
	for _, m := range msgs {
		if _, ok := l.ids[m.ID]; ok {
			continue
		}
		l.ids[m.ID] = struct{}{}
		l.msgs = append(l.msgs, m)
		added++
	}
	if added > 0 {
		SortMessages(l.msgs)
	}
	return added
}

func (l *MessageList) Len() int { return len(l.msgs) }

// Messages returns a copy; never nil.
func (l *MessageList) Messages() []Message {
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

func SortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// Header is how a conversation is titled for one viewer.
type Header struct {
	Title       string  `json:"title"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	OtherUserID string  `json:"other_user_id,omitempty"`
}

type ConversationView struct {
	Conversation *Conversation `json:"conversation"`
	Header       Header        `json:"header"`
	Messages     []Message     `json:"messages"`
}

// OpenConversation returns the conversation, its header for viewerUID and
// the most recent messages in ascending order.
func (s *Service) OpenConversation(ctx context.Context, viewerUID, conversationID string) (*ConversationView, error) {
	meta, err := s.loadMember(ctx, conversationID, viewerUID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListRecentMessages(ctx, meta.ID, s.recentLimit)
	if err != nil {
		return nil, errors.WithMessage(err, "load messages")
	}
	list := NewMessageList()
	list.Merge(msgs...)
	return &ConversationView{
		Conversation: meta,
		Header:       s.header(ctx, meta, viewerUID),
		Messages:     list.Messages(),
	}, nil
}

func (s *Service) header(ctx context.Context, meta *Conversation, viewerUID string) Header {
	if meta.IsGroup {
		title := "Group"
		if meta.GroupName != nil && *meta.GroupName != "" {
			title = *meta.GroupName
		}
		return Header{Title: title}
	}
	other := meta.Other(viewerUID)
	id := s.lookup.Resolve(ctx, other)
	return Header{Title: id.Username, AvatarURL: id.AvatarURL, OtherUserID: other}
}

// LoadOlder pages history strictly before the (beforeTS, beforeID) cursor.
func (s *Service) LoadOlder(ctx context.Context, viewerUID, conversationID string, beforeTS int64, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = s.recentLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if _, err := s.loadMember(ctx, conversationID, viewerUID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessagesBefore(ctx, conversationID, beforeTS, beforeID, limit)
	if err != nil {
		return nil, errors.WithMessage(err, "load older messages")
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// StreamState is what a conversation view renders. Loading is true only
// until the initial history has been read.
type StreamState struct {
	Messages []Message
	Loading  bool
	Err      error
}

// MessageStream keeps a conversation's message list current: live
// messages are merged with the recent history window as they arrive.
type MessageStream struct {
	svc            *Service
	conversationID string
	onChange       func(StreamState)

	gate   emitGate
	list   *MessageList
	loaded bool
	// lower bound for re-reading dropped events; owned by the delivery goroutine
	syncedTS int64

	sub    *realtime.Subscription
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

// resyncSkew widens the re-read window for messages committed out of
// timestamp order.
const resyncSkew = 5 * time.Second

// NewMessageStream prepares a stream; nothing happens until Start. Callers
// are expected to have checked membership, for example via
// OpenConversation.
func (s *Service) NewMessageStream(conversationID string, onChange func(StreamState)) *MessageStream {
	return &MessageStream{
		svc:            s,
		conversationID: conversationID,
		onChange:       onChange,
		list:           NewMessageList(),
	}
}

// Start subscribes to new messages, emits a loading state, then reads the
// recent history and emits the merged list with Loading false. Returning from the history
// read is what ends loading, even for a conversation with no messages.
func (ms *MessageStream) Start(ctx context.Context) error {
	var started bool
	ms.once.Do(func() {
		started = true
		ms.ctx, ms.cancel = context.WithCancel(ctx)
		ms.syncedTS = ms.svc.now().Add(-resyncSkew).UnixMilli()
		ms.sub = realtime.NewSubscription(ms.svc.broker, realtime.MessagesTopic(ms.conversationID), ms.onLive).
			OnOverflow(ms.resync)
		ms.sub.Start()
	})
	if !started {
		return nil
	}
	ms.gate.do(func() func() {
		return func() { ms.onChange(StreamState{Messages: []Message{}, Loading: true}) }
	})

	history, err := ms.svc.repo.ListRecentMessages(ms.ctx, ms.conversationID, ms.svc.recentLimit)
	ms.gate.do(func() func() {
		if err != nil {
			state := StreamState{Messages: ms.list.Messages(), Err: err}
			return func() { ms.onChange(state) }
		}
		ms.list.Merge(history...)
		ms.loaded = true
		state := StreamState{Messages: ms.list.Messages()}
		return func() { ms.onChange(state) }
	})
	if err != nil {
		ms.Stop()
		return errors.WithMessage(err, "load messages")
	}
	return nil
}

func (ms *MessageStream) onLive(payload []byte) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		jww.WARN.Printf("[chat] bad message event conversation=%s err=%v", ms.conversationID, err)
		return
	}
	if m.ConversationID != ms.conversationID {
		return
	}
	ms.gate.do(func() func() {
		if ms.list.Merge(m) == 0 || !ms.loaded {
			return nil
		}
		state := StreamState{Messages: ms.list.Messages()}
		return func() { ms.onChange(state) }
	})
}

// resync runs after the subscription dropped events. Everything sent since
// the last sync point is read back from the store; Merge absorbs whatever
// was also delivered live.
func (ms *MessageStream) resync() {
	var (
		missed  []Message
		afterTS = ms.syncedTS
		afterID string
		err     error
	)
	for {
		var page []Message
		page, err = ms.svc.repo.ListMessagesAfter(ms.ctx, ms.conversationID, afterTS, afterID, maxPageLimit)
		if err != nil {
			break
		}
		missed = append(missed, page...)
		if len(page) < maxPageLimit {
			break
		}
		last := page[len(page)-1]
		afterTS, afterID = last.Timestamp, last.ID
	}
	if err != nil {
		if ms.ctx.Err() != nil {
			return
		}
		jww.ERROR.Printf("[chat] resync failed conversation=%s err=%v", ms.conversationID, err)
	}

	ms.gate.do(func() func() {
		added := ms.list.Merge(missed...)
		if n := len(missed); n > 0 && err == nil {
			ms.syncedTS = max(ms.syncedTS, missed[n-1].Timestamp-resyncSkew.Milliseconds())
		}
		if !ms.loaded || (added == 0 && err == nil) {
			return nil
		}
		state := StreamState{Messages: ms.list.Messages(), Err: err}
		return func() { ms.onChange(state) }
	})
}

// Stop detaches from the topic. It is safe to call more than once, before
// Start, or from inside a callback.
func (ms *MessageStream) Stop() {
	ms.once.Do(func() {})
	ms.gate.close()
	if ms.sub != nil {
		ms.sub.Stop()
	}
	if ms.cancel != nil {
		ms.cancel()
	}
}
