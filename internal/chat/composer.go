package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/testerhub/internal/common"
)

type SendInput struct {
	ConversationID string
	SenderUID      string
	Text           string
}

// SendMessage writes a text message and fans its preview out to every
// participant's index entry as one unit. Text that is empty after trimming
// is a no-op and returns (nil, nil).
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*Message, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, nil
	}

	meta, err := s.loadMember(ctx, in.ConversationID, in.SenderUID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	id, err := common.NewULIDAt(now)
	if err != nil {
		return nil, errors.WithMessage(err, "generate message id")
	}
	msg := &Message{
		ID:             id,
		ConversationID: meta.ID,
		SenderUID:      in.SenderUID,
		Text:           text,
		Timestamp:      now.UnixMilli(),
		Type:           MessageTypeText,
	}

	if err := s.exec.Apply(ctx, BuildSendPlan(meta, msg, meta.MemberIDs)); err != nil {
		return nil, errors.WithMessage(err, "send message")
	}
	return msg, nil
}
