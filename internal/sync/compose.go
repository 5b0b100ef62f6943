package sync

import (
	"context"
	"errors"
	"strings"

	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/metrics"
	"go.uber.org/zap"
)

// SetDraft replaces the draft text of the open conversation. Composition
// is refused with Blocked while either side blocks the other.
func (s *Session) SetDraft(ctx context.Context, text string) error {
	return s.do(ctx, "set_draft", func(ctx context.Context) error {
		if err := s.requireWritable(ctx); err != nil {
			return err
		}
		s.draft.Text = text
		s.draft.rev++
		return nil
	})
}

// AttachImage attaches image bytes to the draft. They are uploaded on Send.
func (s *Session) AttachImage(ctx context.Context, name string, data []byte) error {
	return s.do(ctx, "attach_image", func(ctx context.Context) error {
		if err := s.requireWritable(ctx); err != nil {
			return err
		}
		if len(data) == 0 {
			return chat.InvalidArgument("image is empty")
		}
		s.draft.ImageName = name
		s.draft.ImageSize = len(data)
		s.draft.image = append([]byte(nil), data...)
		s.draft.rev++
		return nil
	})
}

// ClearImage drops the attached image, keeping the text. It is allowed
// while blocked.
func (s *Session) ClearImage(ctx context.Context) error {
	return s.do(ctx, "clear_image", func(context.Context) error {
		if err := s.requireComposer(); err != nil {
			return err
		}
		s.draft.ImageName = ""
		s.draft.ImageSize = 0
		s.draft.image = nil
		s.draft.rev++
		return nil
	})
}

func (s *Session) requireComposer() error {
	if _, err := s.requireSelf(); err != nil {
		return err
	}
	if !s.view.Open() {
		return errNoConversation
	}
	return nil
}

// requireWritable is requireComposer plus fresh block flags.
func (s *Session) requireWritable(ctx context.Context) error {
	if err := s.requireComposer(); err != nil {
		return err
	}
	if _, err := s.refreshFlags(ctx); err != nil {
		return err
	}
	if !s.view.CanSend {
		return chat.ErrBlocked
	}
	return nil
}

func (s *Session) clearDraft() {
	rev := s.draft.rev
	s.draft = Draft{rev: rev + 1}
}

type sendJob struct {
	token     uint64
	draftRev  uint64
	conv      chat.ConversationID
	sender    chat.UserID
	text      string
	imageName string
	image     []byte
}

// Send uploads the attached image, appends the draft to the open
// conversation and clears the draft. The upload and append run off the
// loop; if the conversation was closed or switched meanwhile the message
// stays persisted but the session ignores the result. On failure the
// draft is kept.
func (s *Session) Send(ctx context.Context) (*chat.Message, error) {
	job, err := call(s, ctx, "", s.prepareSend)
	if err != nil {
		metrics.IntentsTotal.WithLabelValues("send", codeLabel(err)).Inc()
		return nil, err
	}

	msg, sendErr := s.deliver(ctx, job)

	_ = s.do(context.WithoutCancel(ctx), "", func(ctx context.Context) error {
		s.completeSend(ctx, job, msg, sendErr)
		return nil
	})
	metrics.IntentsTotal.WithLabelValues("send", codeLabel(sendErr)).Inc()
	return msg, sendErr
}

func (s *Session) prepareSend(ctx context.Context) (sendJob, error) {
	if err := s.requireWritable(ctx); err != nil {
		return sendJob{}, err
	}
	self := s.self
	text := strings.TrimSpace(s.draft.Text)
	if text == "" && len(s.draft.image) == 0 {
		return sendJob{}, chat.ErrInvalidMessage
	}
	return sendJob{
		token:     s.token,
		draftRev:  s.draft.rev,
		conv:      s.view.ConversationID,
		sender:    self.ID,
		text:      text,
		imageName: s.draft.ImageName,
		image:     s.draft.image,
	}, nil
}

func (s *Session) deliver(ctx context.Context, job sendJob) (*chat.Message, error) {
	var ref string
	if len(job.image) > 0 {
		if s.blobs == nil {
			return nil, chat.New(chat.CodeUploadFailed, "no blob storage configured")
		}
		var err error
		ref, err = s.blobs.Upload(ctx, job.imageName, job.image)
		if err != nil {
			if !errors.Is(err, chat.ErrUploadFailed) {
				err = chat.Wrap(chat.CodeUploadFailed, "upload image", err)
			}
			return nil, err
		}
	}
	return s.backend.Append(ctx, job.conv, job.sender, job.text, ref)
}

func (s *Session) completeSend(ctx context.Context, job sendJob, msg *chat.Message, err error) {
	if job.token != s.token {
		metrics.StaleResultsTotal.Inc()
		s.logger.Debug("discarding stale send result",
			zap.String("conversation", string(job.conv)), zap.Error(err))
		return
	}
	if err != nil {
		s.logger.Warn("send failed", zap.String("conversation", string(job.conv)), zap.Error(err))
		return
	}
	if s.draft.rev == job.draftRev {
		s.clearDraft()
	}
	s.logger.Debug("message sent", zap.String("conversation", string(job.conv)), zap.Int64("seq", msg.Seq))
	s.backfill(ctx)
}
