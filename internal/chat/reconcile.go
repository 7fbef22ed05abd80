package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/gorm"

	"github.com/suPer8Hu/testerhub/internal/common"
	"github.com/suPer8Hu/testerhub/internal/profile"
	"github.com/suPer8Hu/testerhub/internal/realtime"
)

const (
	ReasonMissingRecord = "index entry missing"
	ReasonPublishFailed = "publish failed"
	ReasonStale         = "index entry stale"
)

// Divergence describes index state that may no longer match its
// conversation.
type Divergence struct {
	ConversationID string
	UserIDs        []string
	Reason         string
}

// Auditor receives divergences detected after a write.
type Auditor interface {
	Report(ctx context.Context, d Divergence)
}

// LogAuditor only records divergences.
type LogAuditor struct{}

func (LogAuditor) Report(_ context.Context, d Divergence) {
	jww.WARN.Printf("[chat] divergence conversation=%s users=%s reason=%q",
		d.ConversationID, strings.Join(d.UserIDs, ","), d.Reason)
}

// InlineAuditor repairs the conversation before returning.
type InlineAuditor struct {
	reconciler *Reconciler
}

func NewInlineAuditor(r *Reconciler) *InlineAuditor {
	return &InlineAuditor{reconciler: r}
}

func (a *InlineAuditor) Report(ctx context.Context, d Divergence) {
	LogAuditor{}.Report(ctx, d)
	rep, err := a.reconciler.RepairConversation(ctx, d.ConversationID)
	if err != nil {
		jww.ERROR.Printf("[chat] inline repair conversation=%s err=%v", d.ConversationID, err)
		return
	}
	jww.INFO.Printf("[chat] inline repair conversation=%s created=%d advanced=%d",
		d.ConversationID, len(rep.Created), len(rep.Advanced))
}

// JobPublisher hands a job id to the worker queue.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// QueueAuditor persists a ReconcileJob and enqueues it for cmd/worker.
type QueueAuditor struct {
	repo *Repo
	pub  JobPublisher
}

func NewQueueAuditor(repo *Repo, pub JobPublisher) *QueueAuditor {
	return &QueueAuditor{repo: repo, pub: pub}
}

func (a *QueueAuditor) Report(ctx context.Context, d Divergence) {
	LogAuditor{}.Report(ctx, d)
	if _, err := a.Enqueue(ctx, d); err != nil {
		jww.ERROR.Printf("[chat] enqueue repair conversation=%s err=%v", d.ConversationID, err)
	}
}

func (a *QueueAuditor) Enqueue(ctx context.Context, d Divergence) (*ReconcileJob, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	job := &ReconcileJob{
		ID:             id,
		ConversationID: d.ConversationID,
		Reason:         d.Reason,
		Status:         JobQueued,
	}
	if err := a.repo.CreateJob(ctx, job); err != nil {
		return nil, errors.WithMessage(err, "create reconcile job")
	}
	if err := a.pub.PublishJob(ctx, job.ID); err != nil {
		_ = a.repo.MarkJobFailed(ctx, job.ID, "enqueue failed: "+err.Error())
		return nil, errors.WithMessage(err, "publish reconcile job")
	}
	return job, nil
}

// Report lists what a repair changed.
type Report struct {
	ConversationID string
	Created        []string // users that got a missing entry
	Advanced       []string // users whose entry was behind the conversation
}

func (r Report) Changed() int { return len(r.Created) + len(r.Advanced) }

// Reconciler rebuilds index entries from the conversation record, which is
// the source of truth for last-message fields and membership.
type Reconciler struct {
	repo   *Repo
	broker realtime.Broker
	lookup *profile.Lookup
}

func NewReconciler(repo *Repo, broker realtime.Broker, lookup *profile.Lookup) *Reconciler {
	return &Reconciler{repo: repo, broker: broker, lookup: lookup}
}

// RepairConversation creates missing index entries and advances stale
// ones. Entries are never moved back to an older message and never
// deleted.
func (r *Reconciler) RepairConversation(ctx context.Context, conversationID string) (Report, error) {
	rep := Report{ConversationID: conversationID}

	meta, err := r.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rep, ErrNotFound
		}
		return rep, errors.WithMessage(err, "load conversation")
	}
	entries, err := r.repo.ListIndexByConversation(ctx, conversationID)
	if err != nil {
		return rep, errors.WithMessage(err, "load index entries")
	}
	existing := make(map[string]IndexEntry, len(entries))
	for _, e := range entries {
		existing[e.UserID] = e
	}

	last := meta.lastMessage()
	resolver := r.lookup.Session()
	for _, uid := range meta.MemberIDs {
		e, ok := existing[uid]
		if !ok {
			entry := newIndexEntry(ctx, meta, uid, resolver)
			created, err := r.repo.CreateIndexEntryIfMissing(ctx, &entry)
			if err != nil {
				return rep, errors.WithMessagef(err, "create index entry user=%s", uid)
			}
			if created {
				rep.Created = append(rep.Created, uid)
			}
			continue
		}
		if e.lastMessage() == last || e.LastMessageTimestamp > last.Timestamp {
			continue
		}
		advanced, err := r.repo.AdvanceIndexEntry(ctx, uid, conversationID, last)
		if err != nil {
			return rep, errors.WithMessagef(err, "advance index entry user=%s", uid)
		}
		if advanced {
			rep.Advanced = append(rep.Advanced, uid)
		}
	}

	r.notify(ctx, conversationID, rep.Created, OpPut)
	r.notify(ctx, conversationID, rep.Advanced, OpPatch)
	return rep, nil
}

// RepairAll walks every conversation in id order.
func (r *Reconciler) RepairAll(ctx context.Context, batch int) ([]Report, error) {
	if batch <= 0 {
		batch = 100
	}
	var (
		out   []Report
		after string
	)
	for {
		ids, err := r.repo.ListConversationIDs(ctx, after, batch)
		if err != nil {
			return out, errors.WithMessage(err, "list conversations")
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			rep, err := r.RepairConversation(ctx, id)
			if err != nil {
				return out, err
			}
			if rep.Changed() > 0 {
				out = append(out, rep)
			}
		}
		if len(ids) < batch {
			return out, nil
		}
		after = ids[len(ids)-1]
	}
}

// RunJob executes a persisted ReconcileJob and records its outcome. Failed
// jobs may be run again; succeeded ones are skipped.
func (r *Reconciler) RunJob(ctx context.Context, jobID string) error {
	job, err := r.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return errors.WithMessage(err, "load job")
	}
	if job.Status == JobSucceeded {
		return nil
	}
	if err := r.repo.UpdateJobStatusRunning(ctx, job.ID); err != nil {
		return errors.WithMessage(err, "mark running")
	}

	rep, err := r.RepairConversation(ctx, job.ConversationID)
	if err != nil {
		if markErr := r.repo.MarkJobFailed(ctx, job.ID, err.Error()); markErr != nil {
			jww.ERROR.Printf("[chat] mark job failed job_id=%s err=%v", job.ID, markErr)
		}
		return err
	}
	return r.repo.MarkJobSucceeded(ctx, job.ID, rep.Changed())
}

func (r *Reconciler) notify(ctx context.Context, conversationID string, uids []string, op Op) {
	if r.broker == nil {
		return
	}
	for _, uid := range uids {
		if err := publishIndexEvent(ctx, r.broker, uid, conversationID, op); err != nil {
			jww.WARN.Printf("[chat] repair publish user=%s conversation=%s err=%v", uid, conversationID, err)
		}
	}
}

// newIndexEntry builds uid's entry for meta. For 1:1 conversations the
// counterpart's identity is resolved through r.
func newIndexEntry(ctx context.Context, meta *Conversation, uid string, r *profile.Resolver) IndexEntry {
	e := IndexEntry{
		UserID:               uid,
		ConversationID:       meta.ID,
		IsGroup:              meta.IsGroup,
		GroupName:            meta.GroupName,
		LastMessageTimestamp: meta.LastMessageTimestamp,
		LastMessageSnippet:   meta.LastMessageSnippet,
		LastMessageSenderUID: meta.LastMessageSenderUID,
	}
	if meta.IsGroup {
		return e
	}
	other := meta.Other(uid)
	id := r.Resolve(ctx, other)
	e.OtherUserID = other
	e.OtherUserName = id.Username
	e.OtherUserAvatar = id.AvatarURL
	return e
}
