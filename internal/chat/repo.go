package chat

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) DB() *gorm.DB { return r.db }

// GetConversation loads a conversation with MemberIDs filled in.
func (r *Repo) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("user_id ASC") }).
		Where("id = ?", id).
		First(&c).Error; err != nil {
		return nil, err
	}
	c.MemberIDs = make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		c.MemberIDs = append(c.MemberIDs, m.UserID)
	}
	return &c, nil
}

// ListConversationIDs pages conversation ids in ascending order.
func (r *Repo) ListConversationIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListIndex returns uid's index entries in storage order.
func (r *Repo) ListIndex(ctx context.Context, uid string) ([]IndexEntry, error) {
	var entries []IndexEntry
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", uid).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Repo) ListIndexByConversation(ctx context.Context, conversationID string) ([]IndexEntry, error) {
	var entries []IndexEntry
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListRecentMessages returns the newest limit messages, oldest first.
func (r *Repo) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 25
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sent_at DESC").Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// ListMessagesBefore returns up to limit messages strictly older than the
// (beforeTS, beforeID) cursor, oldest first.
func (r *Repo) ListMessagesBefore(ctx context.Context, conversationID string, beforeTS int64, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 25
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where("sent_at < ? OR (sent_at = ? AND id < ?)", beforeTS, beforeTS, beforeID).
		Order("sent_at DESC").Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// ListMessagesAfter returns up to limit messages strictly newer than the
// (afterTS, afterID) cursor, oldest first.
func (r *Repo) ListMessagesAfter(ctx context.Context, conversationID string, afterTS int64, afterID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 25
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where("sent_at > ? OR (sent_at = ? AND id > ?)", afterTS, afterTS, afterID).
		Order("sent_at ASC").Order("id ASC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// CreateIndexEntryIfMissing inserts e unless an entry already exists.
func (r *Repo) CreateIndexEntryIfMissing(ctx context.Context, e *IndexEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AdvanceIndexEntry copies last onto an existing entry unless the entry
// already holds a newer message.
func (r *Repo) AdvanceIndexEntry(ctx context.Context, uid, conversationID string, last LastMessage) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&IndexEntry{}).
		Where("user_id = ? AND conversation_id = ?", uid, conversationID).
		Where("last_message_timestamp <= ?", last.Timestamp).
		Updates(lastMessageColumns(last))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func lastMessageColumns(last LastMessage) map[string]any {
	return map[string]any{
		"last_message_timestamp":  last.Timestamp,
		"last_message_snippet":    last.Snippet,
		"last_message_sender_uid": last.SenderUID,
	}
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *ReconcileJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*ReconcileJob, error) {
	var j ReconcileJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&ReconcileJob{}).
		Where("id = ? AND status <> ?", id, JobSucceeded).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, repaired int) error {
	return r.db.WithContext(ctx).Model(&ReconcileJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":   JobSucceeded,
			"repaired": repaired,
			"error":    nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&ReconcileJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}
