package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/gorm"

	"github.com/suPer8Hu/testerhub/internal/common"
)

const maxGroupNameLen = 128

// StartConversation opens the 1:1 conversation between currentUID and
// targetUID, creating it and both index entries on first use. created is
// false when the conversation already existed. onResolved, if set, is
// called with the id once it is known to exist.
func (s *Service) StartConversation(ctx context.Context, currentUID, targetUID string, onResolved func(string)) (string, bool, error) {
	currentUID = strings.TrimSpace(currentUID)
	targetUID = strings.TrimSpace(targetUID)
	if currentUID == "" || targetUID == "" {
		return "", false, errors.WithMessage(ErrInvalidInput, "both participants are required")
	}
	if currentUID == targetUID {
		return "", false, errors.WithMessage(ErrInvalidInput, "cannot start a chat with yourself")
	}

	id := ConversationID(currentUID, targetUID)
	resolved := func(created bool) (string, bool, error) {
		if onResolved != nil {
			onResolved(id)
		}
		return id, created, nil
	}

	meta, err := s.repo.GetConversation(ctx, id)
	if err == nil {
		// ids containing '_' can derive the same key for a different pair
		if !meta.HasMember(currentUID) || !meta.HasMember(targetUID) {
			return "", false, ErrNotParticipant
		}
		s.auditMembers(ctx, meta)
		return resolved(false)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, errors.WithMessage(err, "load conversation")
	}

	meta = &Conversation{
		ID:                   id,
		MemberIDs:            []string{currentUID, targetUID},
		LastMessageTimestamp: s.now().UnixMilli(),
		LastMessageSnippet:   ChatCreatedSnippet,
	}
	resolver := s.lookup.Session()
	entries := []IndexEntry{
		newIndexEntry(ctx, meta, currentUID, resolver),
		newIndexEntry(ctx, meta, targetUID, resolver),
	}

	if err := s.exec.Apply(ctx, BuildStartPlan(meta, entries)); err != nil {
		// a concurrent start of the same pair won the insert
		if existing, getErr := s.repo.GetConversation(ctx, id); getErr == nil {
			if !existing.HasMember(currentUID) || !existing.HasMember(targetUID) {
				return "", false, ErrNotParticipant
			}
			return resolved(false)
		}
		return "", false, errors.WithMessage(err, "create conversation")
	}
	jww.INFO.Printf("[chat] conversation created id=%s", id)
	return resolved(true)
}

// StartGroup creates a group conversation of creatorUID and memberIDs.
func (s *Service) StartGroup(ctx context.Context, creatorUID string, memberIDs []string, name string) (*Conversation, error) {
	creatorUID = strings.TrimSpace(creatorUID)
	name = strings.TrimSpace(name)
	if creatorUID == "" {
		return nil, errors.WithMessage(ErrInvalidInput, "creator is required")
	}
	if name == "" || len([]rune(name)) > maxGroupNameLen {
		return nil, errors.WithMessagef(ErrInvalidInput, "group name must be 1-%d characters", maxGroupNameLen)
	}
	trimmed := make([]string, 0, len(memberIDs))
	for _, m := range memberIDs {
		trimmed = append(trimmed, strings.TrimSpace(m))
	}
	members := FanoutSet(creatorUID, trimmed)
	if len(members) < 3 {
		return nil, errors.WithMessage(ErrInvalidInput, "a group needs at least two other members")
	}

	now := s.now()
	id, err := common.NewULIDAt(now)
	if err != nil {
		return nil, errors.WithMessage(err, "generate group id")
	}
	meta := &Conversation{
		ID:                   id,
		IsGroup:              true,
		GroupName:            &name,
		MemberIDs:            members,
		LastMessageTimestamp: now.UnixMilli(),
		LastMessageSnippet:   ChatCreatedSnippet,
	}
	entries := make([]IndexEntry, 0, len(members))
	for _, uid := range members {
		entries = append(entries, newIndexEntry(ctx, meta, uid, nil))
	}
	if err := s.exec.Apply(ctx, BuildStartPlan(meta, entries)); err != nil {
		return nil, errors.WithMessage(err, "create group")
	}
	jww.INFO.Printf("[chat] group created id=%s members=%d", id, len(members))
	return meta, nil
}

// auditMembers reports members of an existing conversation that have no
// index entry.
func (s *Service) auditMembers(ctx context.Context, meta *Conversation) {
	entries, err := s.repo.ListIndexByConversation(ctx, meta.ID)
	if err != nil {
		jww.WARN.Printf("[chat] audit index conversation=%s err=%v", meta.ID, err)
		return
	}
	have := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		have[e.UserID] = struct{}{}
	}
	var missing []string
	for _, uid := range meta.MemberIDs {
		if _, ok := have[uid]; !ok {
			missing = append(missing, uid)
		}
	}
	if len(missing) > 0 {
		s.auditor.Report(ctx, Divergence{ConversationID: meta.ID, UserIDs: missing, Reason: ReasonMissingRecord})
	}
}
