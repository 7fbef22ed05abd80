package chat

import (
	"time"
)

type MessageType string

const MessageTypeText MessageType = "text"

// ChatCreatedSnippet seeds the last-message preview of a new conversation.
const ChatCreatedSnippet = "Chat created"

type Conversation struct {
	ID                   string    `gorm:"primaryKey;size:160" json:"id"`
	IsGroup              bool      `gorm:"not null;default:false" json:"is_group"`
	GroupName            *string   `gorm:"size:128" json:"group_name,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	LastMessageTimestamp int64     `gorm:"not null;default:0" json:"last_message_timestamp"`
	LastMessageSnippet   string    `gorm:"size:255" json:"last_message_snippet"`
	LastMessageSenderUID string    `gorm:"size:64" json:"last_message_sender_uid"`

	Members   []Member `gorm:"foreignKey:ConversationID" json:"-"`
	MemberIDs []string `gorm:"-" json:"members"`
}

func (Conversation) TableName() string { return "conversations" }

func (c *Conversation) HasMember(uid string) bool {
	for _, m := range c.MemberIDs {
		if m == uid {
			return true
		}
	}
	return false
}

// Other returns the counterpart of uid in a 1:1 conversation.
func (c *Conversation) Other(uid string) string {
	for _, m := range c.MemberIDs {
		if m != uid {
			return m
		}
	}
	return ""
}

func (c *Conversation) lastMessage() LastMessage {
	return LastMessage{
		Timestamp: c.LastMessageTimestamp,
		Snippet:   c.LastMessageSnippet,
		SenderUID: c.LastMessageSenderUID,
	}
}

type Member struct {
	ConversationID string    `gorm:"primaryKey;size:160"`
	UserID         string    `gorm:"primaryKey;size:64;index"`
	JoinedAt       time.Time `gorm:"autoCreateTime"`
}

func (Member) TableName() string { return "conversation_members" }

// Message is immutable once written. Timestamp is milliseconds since the
// epoch, assigned by the server.
type Message struct {
	ID             string      `gorm:"primaryKey;size:26" json:"id"`
	ConversationID string      `gorm:"size:160;not null;index:idx_chat_msg_conv_ts,priority:1" json:"conversation_id"`
	SenderUID      string      `gorm:"size:64;not null" json:"sender_uid"`
	Text           string      `gorm:"type:text;not null" json:"text"`
	Timestamp      int64       `gorm:"column:sent_at;not null;index:idx_chat_msg_conv_ts,priority:2" json:"timestamp"`
	Type           MessageType `gorm:"type:varchar(16);not null" json:"type"`
}

func (Message) TableName() string { return "chat_messages" }

// IndexEntry is one row of a user's chat list: the conversation's last
// message fields plus, for 1:1 chats, the counterpart's display identity.
type IndexEntry struct {
	UserID               string    `gorm:"primaryKey;size:64" json:"-"`
	ConversationID       string    `gorm:"primaryKey;size:160" json:"conversation_id"`
	IsGroup              bool      `gorm:"not null;default:false" json:"is_group"`
	GroupName            *string   `gorm:"size:128" json:"group_name,omitempty"`
	OtherUserID          string    `gorm:"size:64" json:"other_user_id,omitempty"`
	OtherUserName        string    `gorm:"size:64" json:"other_user_name,omitempty"`
	OtherUserAvatar      *string   `gorm:"size:512" json:"other_user_avatar,omitempty"`
	LastMessageTimestamp int64     `gorm:"not null;default:0" json:"last_message_timestamp"`
	LastMessageSnippet   string    `gorm:"size:255" json:"last_message_snippet"`
	LastMessageSenderUID string    `gorm:"size:64" json:"last_message_sender_uid"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (IndexEntry) TableName() string { return "chat_index_entries" }

func (e *IndexEntry) lastMessage() LastMessage {
	return LastMessage{
		Timestamp: e.LastMessageTimestamp,
		Snippet:   e.LastMessageSnippet,
		SenderUID: e.LastMessageSenderUID,
	}
}

// Models lists the gorm models owned by this package.
func Models() []any {
	return []any{&Conversation{}, &Member{}, &Message{}, &IndexEntry{}, &ReconcileJob{}}
}
