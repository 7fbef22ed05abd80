package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationID_Symmetric(t *testing.T) {
	assert.Equal(t, "u1_u2", ConversationID("u1", "u2"))
	assert.Equal(t, "u1_u2", ConversationID("u2", "u1"))
	assert.Equal(t, ConversationID("zed", "amy"), ConversationID("amy", "zed"))

	a, b, ok := ParticipantsOf("u1_u2")
	require.True(t, ok)
	assert.Equal(t, "u1", a)
	assert.Equal(t, "u2", b)

	_, _, ok = ParticipantsOf("01HZY3Q7J3N5TQ3R0WJ4K6Z8XA")
	assert.False(t, ok)
}

func TestSnippet_Boundary(t *testing.T) {
	fifty := strings.Repeat("a", 50)
	assert.Equal(t, fifty, Snippet(fifty))

	fiftyOne := strings.Repeat("b", 51)
	got := Snippet(fiftyOne)
	assert.Equal(t, strings.Repeat("b", 47)+"...", got)
	assert.Len(t, []rune(got), 50)

	// counted in characters, not bytes
	wide := strings.Repeat("é", 50)
	assert.Equal(t, wide, Snippet(wide))
	assert.Equal(t, strings.Repeat("é", 47)+"...", Snippet(wide+"é"))

	assert.Equal(t, "", Snippet(""))
}

func TestFanoutSet_SenderFirstNoDuplicates(t *testing.T) {
	got := FanoutSet("u1", []string{"u2", "u1", "", "u2", "u3"})
	assert.Equal(t, []string{"u1", "u2", "u3"}, got)

	// sender outside the participant list still receives its own entry
	assert.Equal(t, []string{"u9", "u1"}, FanoutSet("u9", []string{"u1"}))
}

func TestBuildSendPlan_SamePreviewEverywhere(t *testing.T) {
	meta := &Conversation{ID: "u1_u2", MemberIDs: []string{"u1", "u2"}}
	msg := &Message{ID: "m1", ConversationID: "u1_u2", SenderUID: "u1", Text: strings.Repeat("x", 60), Timestamp: 42}

	plan := BuildSendPlan(meta, msg, []string{"u2", "u1", "u2"})
	require.Len(t, plan.Mutations, 4)

	assert.Equal(t, Location{Kind: KindMessage, ConversationID: "u1_u2", MessageID: "m1"}, plan.Mutations[0].Location)
	assert.Equal(t, OpPut, plan.Mutations[0].Op)
	assert.Equal(t, KindConversation, plan.Mutations[1].Location.Kind)

	want := LastMessage{Timestamp: 42, Snippet: strings.Repeat("x", 47) + "...", SenderUID: "u1"}
	var users []string
	for _, m := range plan.Mutations[1:] {
		assert.Equal(t, OpPatch, m.Op)
		require.NotNil(t, m.Patch)
		assert.Equal(t, want, *m.Patch)
		if m.Location.Kind == KindIndex {
			users = append(users, m.Location.UserID)
		}
	}
	assert.Equal(t, []string{"u1", "u2"}, users)
	assert.Equal(t, "index/u2/u1_u2", plan.Mutations[3].Location.String())
}

func TestBuildStartPlan(t *testing.T) {
	meta := &Conversation{ID: "u1_u2", MemberIDs: []string{"u1", "u2"}}
	plan := BuildStartPlan(meta, []IndexEntry{{UserID: "u1", ConversationID: "u1_u2"}, {UserID: "u2", ConversationID: "u1_u2"}})

	locs := plan.Locations()
	require.Len(t, locs, 3)
	assert.Equal(t, "conversations/u1_u2", locs[0].String())
	assert.Equal(t, "index/u1/u1_u2", locs[1].String())
	assert.Equal(t, "index/u2/u1_u2", locs[2].String())
	// entries are copied, not aliased
	assert.NotSame(t, plan.Mutations[1].Entry, plan.Mutations[2].Entry)
}

func TestSortIndex(t *testing.T) {
	entries := []IndexEntry{
		{ConversationID: "c", LastMessageTimestamp: 0},
		{ConversationID: "b", LastMessageTimestamp: 10},
		{ConversationID: "a", LastMessageTimestamp: 10},
		{ConversationID: "d", LastMessageTimestamp: 30},
		{ConversationID: "e", LastMessageTimestamp: 0},
	}
	SortIndex(entries)

	var got []string
	for _, e := range entries {
		got = append(got, e.ConversationID)
	}
	assert.Equal(t, []string{"d", "a", "b", "c", "e"}, got)
}

func TestMessageList_MergeDedupesAndSorts(t *testing.T) {
	l := NewMessageList()
	assert.Equal(t, 2, l.Merge(Message{ID: "b", Timestamp: 2}, Message{ID: "a", Timestamp: 3}))
	assert.Equal(t, 1, l.Merge(Message{ID: "a", Timestamp: 3}, Message{ID: "c", Timestamp: 2}))
	assert.Equal(t, 0, l.Merge(Message{ID: "b", Timestamp: 2}))

	var ids []string
	for _, m := range l.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
	assert.NotNil(t, NewMessageList().Messages())
}
