package app

import (
	"context"

	"github.com/anaparv/anaparv-pep-project/internal/metrics"
	"github.com/anaparv/anaparv-pep-project/pkg/domain"
	"github.com/anaparv/anaparv-pep-project/pkg/store"
)

// AuthorChecker reports whether an account id exists. *AccountService satisfies it.
type AuthorChecker interface {
	AccountExists(ctx context.Context, id int) (bool, error)
}

// MessageService enforces message text and authorship rules on top of a MessageStore.
type MessageService struct {
	messages store.MessageStore
	authors  AuthorChecker
	options
}

// NewMessageService constructs a MessageService.
func NewMessageService(messages store.MessageStore, authors AuthorChecker, opts ...Option) *MessageService {
	return &MessageService{messages: messages, authors: authors, options: newOptions(opts)}
}

// Create posts a message. The id and timestamp of msg are ignored; the message
// is stamped with the service clock in Unix seconds.
func (s *MessageService) Create(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if err := domain.ValidateMessageText(msg.MessageText); err != nil {
		return domain.Message{}, err
	}
	exists, err := s.authors.AccountExists(ctx, msg.PostedBy)
	if err != nil {
		return domain.Message{}, classify("check author", err)
	}
	if !exists {
		return domain.Message{}, domain.Validation(domain.ReasonAuthorNotFound)
	}
	msg.ID = 0
	msg.TimePostedEpoch = s.now().Unix()
	created, err := s.messages.CreateMessage(ctx, msg)
	if err != nil {
		return domain.Message{}, classify("create message", err)
	}
	s.logAudit(ctx, "message_created", "message_id", created.ID, "account_id", created.PostedBy)
	s.inc(func(m *metrics.Metrics) { m.MessagesCreated.Inc() })
	return created, nil
}

func (s *MessageService) Get(ctx context.Context, id int) (domain.Message, bool, error) {
	msg, found, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		return domain.Message{}, false, classify("get message", err)
	}
	return msg, found, nil
}

func (s *MessageService) List(ctx context.Context) ([]domain.Message, error) {
	msgs, err := s.messages.ListMessages(ctx)
	if err != nil {
		return nil, classify("list messages", err)
	}
	return msgs, nil
}

// ListByAuthor returns an empty list for unknown authors.
func (s *MessageService) ListByAuthor(ctx context.Context, accountID int) ([]domain.Message, error) {
	msgs, err := s.messages.ListMessagesByAuthor(ctx, accountID)
	if err != nil {
		return nil, classify("list messages by author", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// Update replaces the text of msg.ID. Only MessageText is read from msg; the
// author is not re-checked.
func (s *MessageService) Update(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if err := domain.ValidateMessageText(msg.MessageText); err != nil {
		return domain.Message{}, err
	}
	updated, err := s.messages.UpdateMessageText(ctx, msg.ID, msg.MessageText)
	if err != nil {
		return domain.Message{}, classify("update message", err)
	}
	s.logAudit(ctx, "message_updated", "message_id", updated.ID)
	s.inc(func(m *metrics.Metrics) { m.MessagesUpdated.Inc() })
	return updated, nil
}

// Delete removes a message and returns it, reporting whether anything was removed.
// A missing id is not an error.
func (s *MessageService) Delete(ctx context.Context, id int) (domain.Message, bool, error) {
	removed, deleted, err := s.messages.DeleteMessage(ctx, id)
	if err != nil {
		return domain.Message{}, false, classify("delete message", err)
	}
	if deleted {
		s.logAudit(ctx, "message_deleted", "message_id", id)
		s.inc(func(m *metrics.Metrics) { m.MessagesDeleted.Inc() })
	}
	return removed, deleted, nil
}
