package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/suPer8Hu/testerhub/internal/realtime"
)

// SortIndex orders entries by last message, newest first. Entries without a
// timestamp go last; ties break on conversation id.
func SortIndex(entries []IndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.LastMessageTimestamp != b.LastMessageTimestamp {
			if a.LastMessageTimestamp == 0 || b.LastMessageTimestamp == 0 {
				return b.LastMessageTimestamp == 0
			}
			return a.LastMessageTimestamp > b.LastMessageTimestamp
		}
		return a.ConversationID < b.ConversationID
	})
}

// ListIndex returns uid's chat list, sorted. An empty list is a non-nil
// empty slice.
func (s *Service) ListIndex(ctx context.Context, uid string) ([]IndexEntry, error) {
	entries, err := s.repo.ListIndex(ctx, uid)
	if err != nil {
		return nil, errors.WithMessage(err, "list index")
	}
	if entries == nil {
		entries = []IndexEntry{}
	}
	SortIndex(entries)
	return entries, nil
}

// IndexSubscription pushes uid's sorted chat list on start and after every
// change to it.
type IndexSubscription struct {
	svc      *Service
	uid      string
	onChange func([]IndexEntry)
	onError  func(error)

	gate   emitGate
	sub    *realtime.Subscription
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

// SubscribeIndex prepares a subscription; nothing happens until Start.
// onError may be nil.
func (s *Service) SubscribeIndex(uid string, onChange func([]IndexEntry), onError func(error)) *IndexSubscription {
	if onError == nil {
		onError = func(err error) {
			jww.WARN.Printf("[chat] index subscription uid=%s err=%v", uid, err)
		}
	}
	return &IndexSubscription{svc: s, uid: uid, onChange: onChange, onError: onError}
}

// Start attaches to the index topic, then emits the initial snapshot. If
// the snapshot cannot be read the error is reported through onError,
// the subscription is stopped and the error returned.
func (is *IndexSubscription) Start(ctx context.Context) error {
	var started bool
	is.once.Do(func() {
		started = true
		is.ctx, is.cancel = context.WithCancel(ctx)
		is.sub = realtime.NewSubscription(is.svc.broker, realtime.IndexTopic(is.uid), func([]byte) {
			is.refresh()
		}).OnOverflow(func() { is.refresh() })
		is.sub.Start()
	})
	if !started {
		return nil
	}
	if err := is.refresh(); err != nil {
		is.Stop()
		return err
	}
	return nil
}

func (is *IndexSubscription) refresh() error {
	var loadErr error
	is.gate.do(func() func() {
		entries, err := is.svc.ListIndex(is.ctx, is.uid)
		if err != nil {
			if is.ctx.Err() != nil {
				return nil
			}
			loadErr = err
			return func() { is.onError(err) }
		}
		return func() { is.onChange(entries) }
	})
	return loadErr
}

// Stop detaches from the topic. It is safe to call more than once, before
// Start, or from inside a callback.
func (is *IndexSubscription) Stop() {
	is.once.Do(func() {})
	is.gate.close()
	if is.sub != nil {
		is.sub.Stop()
	}
	if is.cancel != nil {
		is.cancel()
	}
}
