package chat

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/suPer8Hu/testerhub/internal/profile"
	"github.com/suPer8Hu/testerhub/internal/realtime"
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrNotParticipant = errors.New("not a participant of this conversation")
	ErrInvalidInput   = errors.New("invalid chat input")
)

const (
	defaultRecentLimit = 25
	maxPageLimit       = 100
)

type Options struct {
	// RecentLimit bounds the initial history window of a conversation.
	RecentLimit int
	// Auditor receives divergences noticed on read paths.
	Auditor Auditor
	Now     func() time.Time
}

type Service struct {
	repo        *Repo
	exec        Executor
	broker      realtime.Broker
	lookup      *profile.Lookup
	auditor     Auditor
	recentLimit int
	now         func() time.Time
}

func NewService(repo *Repo, exec Executor, broker realtime.Broker, lookup *profile.Lookup, opts Options) *Service {
	if opts.RecentLimit <= 0 || opts.RecentLimit > maxPageLimit {
		opts.RecentLimit = defaultRecentLimit
	}
	if opts.Auditor == nil {
		opts.Auditor = LogAuditor{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:        repo,
		exec:        exec,
		broker:      broker,
		lookup:      lookup,
		auditor:     opts.Auditor,
		recentLimit: opts.RecentLimit,
		now:         opts.Now,
	}
}

func (s *Service) Broker() realtime.Broker { return s.broker }

// loadMember fetches a conversation and checks that uid belongs to it.
func (s *Service) loadMember(ctx context.Context, conversationID, uid string) (*Conversation, error) {
	meta, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.WithMessage(err, "load conversation")
	}
	if !meta.HasMember(uid) {
		return nil, ErrNotParticipant
	}
	return meta, nil
}
