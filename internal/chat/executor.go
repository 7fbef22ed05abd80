package chat

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/testerhub/internal/realtime"
)

// Executor applies a Plan as a unit.
type Executor interface {
	Apply(ctx context.Context, plan Plan) error
}

// IndexEvent is published on a user's index topic whenever one of their
// entries changes. Subscribers re-read the index.
type IndexEvent struct {
	ConversationID string `json:"conversation_id"`
	Op             Op     `json:"op"`
}

// GormExecutor writes every mutation of a plan in one transaction and,
// after commit, publishes the matching realtime events. Index patches that
// hit no row and failed publishes are handed to the Auditor.
type GormExecutor struct {
	db      *gorm.DB
	broker  realtime.Broker
	auditor Auditor
}

func NewGormExecutor(db *gorm.DB, broker realtime.Broker, auditor Auditor) *GormExecutor {
	if auditor == nil {
		auditor = LogAuditor{}
	}
	return &GormExecutor{db: db, broker: broker, auditor: auditor}
}

var _ Executor = (*GormExecutor)(nil)

func (e *GormExecutor) Apply(ctx context.Context, plan Plan) error {
	if len(plan.Mutations) == 0 {
		return nil
	}

	var missing []Location
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		missing = missing[:0]
		for _, m := range plan.Mutations {
			hit, err := applyMutation(tx, m)
			if err != nil {
				return errors.WithMessagef(err, "%s %s", m.Op, m.Location)
			}
			if !hit {
				missing = append(missing, m.Location)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, loc := range missing {
		jww.WARN.Printf("[chat] patch hit no record location=%s", loc)
		e.auditor.Report(ctx, Divergence{
			ConversationID: loc.ConversationID,
			UserIDs:        userIDs([]Location{loc}),
			Reason:         ReasonMissingRecord,
		})
	}

	if failed := e.publish(ctx, plan); len(failed) > 0 {
		byConv := make(map[string][]Location)
		for _, loc := range failed {
			byConv[loc.ConversationID] = append(byConv[loc.ConversationID], loc)
		}
		for convID, locs := range byConv {
			e.auditor.Report(ctx, Divergence{
				ConversationID: convID,
				UserIDs:        userIDs(locs),
				Reason:         ReasonPublishFailed,
			})
		}
	}
	return nil
}

// applyMutation reports false when a patch matched no existing record.
func applyMutation(tx *gorm.DB, m Mutation) (bool, error) {
	loc := m.Location
	switch {
	case m.Op == OpPut && loc.Kind == KindConversation && m.Conversation != nil:
		if err := tx.Omit(clause.Associations).Create(m.Conversation).Error; err != nil {
			return false, err
		}
		members := make([]Member, 0, len(m.Conversation.MemberIDs))
		for _, uid := range m.Conversation.MemberIDs {
			members = append(members, Member{ConversationID: m.Conversation.ID, UserID: uid})
		}
		if len(members) > 0 {
			if err := tx.Create(&members).Error; err != nil {
				return false, err
			}
		}
		return true, nil

	case m.Op == OpPut && loc.Kind == KindMessage && m.Message != nil:
		return true, tx.Create(m.Message).Error

	case m.Op == OpPut && loc.Kind == KindIndex && m.Entry != nil:
		return true, tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(m.Entry).Error

	case m.Op == OpPatch && loc.Kind == KindConversation && m.Patch != nil:
		return patchLastMessage(tx.Model(&Conversation{}).Where("id = ?", loc.ConversationID), *m.Patch)

	case m.Op == OpPatch && loc.Kind == KindIndex && m.Patch != nil:
		return patchLastMessage(
			tx.Model(&IndexEntry{}).Where("user_id = ? AND conversation_id = ?", loc.UserID, loc.ConversationID),
			*m.Patch,
		)
	}
	return false, errors.Errorf("unsupported mutation %s on %s", m.Op, loc.Kind)
}

// patchLastMessage never moves a record back to an older message. A record
// that already holds a newer one still counts as hit.
func patchLastMessage(q *gorm.DB, last LastMessage) (bool, error) {
	res := q.Session(&gorm.Session{}).
		Where("last_message_timestamp <= ?", last.Timestamp).
		Updates(lastMessageColumns(last))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	var n int64
	if err := q.Session(&gorm.Session{}).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// publish returns the locations whose event could not be delivered.
func (e *GormExecutor) publish(ctx context.Context, plan Plan) []Location {
	if e.broker == nil {
		return nil
	}
	var failed []Location
	for _, m := range plan.Mutations {
		var err error
		switch m.Location.Kind {
		case KindMessage:
			err = publishMessage(ctx, e.broker, m.Message)
		case KindIndex:
			err = publishIndexEvent(ctx, e.broker, m.Location.UserID, m.Location.ConversationID, m.Op)
		default:
			continue
		}
		if err != nil {
			jww.WARN.Printf("[chat] publish failed location=%s err=%v", m.Location, err)
			failed = append(failed, m.Location)
		}
	}
	return failed
}

func publishMessage(ctx context.Context, b realtime.Broker, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.Publish(ctx, realtime.MessagesTopic(msg.ConversationID), payload)
}

func publishIndexEvent(ctx context.Context, b realtime.Broker, uid, conversationID string, op Op) error {
	payload, err := json.Marshal(IndexEvent{ConversationID: conversationID, Op: op})
	if err != nil {
		return err
	}
	return b.Publish(ctx, realtime.IndexTopic(uid), payload)
}

func userIDs(locs []Location) []string {
	var out []string
	for _, l := range locs {
		if l.Kind == KindIndex && l.UserID != "" {
			out = append(out, l.UserID)
		}
	}
	return out
}
