package chat

import "fmt"

type LocationKind string

const (
	KindMessage      LocationKind = "message"
	KindConversation LocationKind = "conversation"
	KindIndex        LocationKind = "index"
)

// Location addresses one record touched by a write.
type Location struct {
	Kind           LocationKind
	ConversationID string
	UserID         string // index only
	MessageID      string // message only
}

func (l Location) String() string {
	switch l.Kind {
	case KindMessage:
		return fmt.Sprintf("messages/%s/%s", l.ConversationID, l.MessageID)
	case KindIndex:
		return fmt.Sprintf("index/%s/%s", l.UserID, l.ConversationID)
	default:
		return "conversations/" + l.ConversationID
	}
}

type Op string

const (
	OpPut   Op = "put"
	OpPatch Op = "patch"
)

// LastMessage is the denormalized preview copied onto the conversation and
// every participant's index entry.
type LastMessage struct {
	Timestamp int64
	Snippet   string
	SenderUID string
}

// Mutation is one put or patch. Exactly one payload field is set, matching
// Op and Location.Kind.
type Mutation struct {
	Op       Op
	Location Location

	Conversation *Conversation
	Message      *Message
	Entry        *IndexEntry
	Patch        *LastMessage
}

// Plan is the full set of mutations of one logical write. An Executor
// applies it as a unit.
type Plan struct {
	Mutations []Mutation
}

func (p Plan) Locations() []Location {
	out := make([]Location, 0, len(p.Mutations))
	for _, m := range p.Mutations {
		out = append(out, m.Location)
	}
	return out
}

// BuildStartPlan creates a conversation and one index entry per member.
func BuildStartPlan(conv *Conversation, entries []IndexEntry) Plan {
	muts := make([]Mutation, 0, 1+len(entries))
	muts = append(muts, Mutation{
		Op:           OpPut,
		Location:     Location{Kind: KindConversation, ConversationID: conv.ID},
		Conversation: conv,
	})
	for i := range entries {
		e := entries[i]
		muts = append(muts, Mutation{
			Op:       OpPut,
			Location: Location{Kind: KindIndex, ConversationID: conv.ID, UserID: e.UserID},
			Entry:    &e,
		})
	}
	return Plan{Mutations: muts}
}

// BuildSendPlan writes msg, patches the conversation's last-message fields
// and patches the index entry of the sender and every participant.
func BuildSendPlan(meta *Conversation, msg *Message, participantIDs []string) Plan {
	last := LastMessage{
		Timestamp: msg.Timestamp,
		Snippet:   Snippet(msg.Text),
		SenderUID: msg.SenderUID,
	}

	targets := FanoutSet(msg.SenderUID, participantIDs)
	muts := make([]Mutation, 0, 2+len(targets))
	muts = append(muts,
		Mutation{
			Op:       OpPut,
			Location: Location{Kind: KindMessage, ConversationID: meta.ID, MessageID: msg.ID},
			Message:  msg,
		},
		Mutation{
			Op:       OpPatch,
			Location: Location{Kind: KindConversation, ConversationID: meta.ID},
			Patch:    &last,
		},
	)
	for _, uid := range targets {
		p := last
		muts = append(muts, Mutation{
			Op:       OpPatch,
			Location: Location{Kind: KindIndex, ConversationID: meta.ID, UserID: uid},
			Patch:    &p,
		})
	}
	return Plan{Mutations: muts}
}

// FanoutSet is sender followed by the remaining participants, without
// duplicates or empty ids.
func FanoutSet(sender string, participantIDs []string) []string {
	seen := make(map[string]struct{}, len(participantIDs)+1)
	out := make([]string, 0, len(participantIDs)+1)
	add := func(uid string) {
		if uid == "" {
			return
		}
		if _, ok := seen[uid]; ok {
			return
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	add(sender)
	for _, uid := range participantIDs {
		add(uid)
	}
	return out
}
