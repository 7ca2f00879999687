package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/anaparv/anaparv-pep-project/internal/metrics"
	"github.com/anaparv/anaparv-pep-project/pkg/domain"
	"github.com/anaparv/anaparv-pep-project/pkg/store/mocks"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type MessageServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	messages *mocks.MockMessageStore
	accounts *mocks.MockAccountStore
	metrics  *metrics.Metrics
	service  *MessageService
	ctx      context.Context
}

func TestMessageServiceSuite(t *testing.T) {
	suite.Run(t, new(MessageServiceSuite))
}

func (s *MessageServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.messages = mocks.NewMockMessageStore(s.ctrl)
	s.accounts = mocks.NewMockAccountStore(s.ctrl)
	s.metrics = metrics.New()
	authors := NewAccountService(s.accounts)
	s.service = NewMessageService(s.messages, authors,
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return fixedNow }),
	)
	s.ctx = context.Background()
}

func (s *MessageServiceSuite) TestCreate() {
	s.Run("stamps server time and ignores client id and timestamp", func() {
		s.accounts.EXPECT().HasAccountID(s.ctx, 1).Return(true, nil)
		s.messages.EXPECT().CreateMessage(s.ctx, domain.Message{
			PostedBy:        1,
			MessageText:     "hello",
			TimePostedEpoch: fixedNow.Unix(),
		}).DoAndReturn(func(_ context.Context, m domain.Message) (domain.Message, error) {
			m.ID = 1
			return m, nil
		})

		msg, err := s.service.Create(s.ctx, domain.Message{ID: 99, PostedBy: 1, MessageText: "hello", TimePostedEpoch: 5})
		s.Require().NoError(err)
		s.Equal(domain.Message{ID: 1, PostedBy: 1, MessageText: "hello", TimePostedEpoch: fixedNow.Unix()}, msg)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.MessagesCreated))
	})

	s.Run("invalid text never touches a store", func() {
		for _, text := range []string{"", "   ", string(make([]rune, domain.MaxMessageTextLen+1))} {
			_, err := s.service.Create(s.ctx, domain.Message{PostedBy: 1, MessageText: text})
			s.Require().ErrorIs(err, domain.ErrValidation)
		}
	})

	s.Run("unknown author", func() {
		s.accounts.EXPECT().HasAccountID(s.ctx, 42).Return(false, nil)

		_, err := s.service.Create(s.ctx, domain.Message{PostedBy: 42, MessageText: "hi"})
		s.Require().ErrorIs(err, domain.ErrValidation)
		s.Equal(domain.ReasonAuthorNotFound, domain.Reason(err))
	})

	s.Run("storage failure on insert", func() {
		s.accounts.EXPECT().HasAccountID(s.ctx, 1).Return(true, nil)
		s.messages.EXPECT().CreateMessage(s.ctx, gomock.Any()).Return(domain.Message{}, errors.New("disk full"))

		_, err := s.service.Create(s.ctx, domain.Message{PostedBy: 1, MessageText: "hi"})
		s.Require().ErrorIs(err, domain.ErrStorage)
	})
}

func (s *MessageServiceSuite) TestUpdate() {
	s.Run("delegates text only", func() {
		s.messages.EXPECT().UpdateMessageText(s.ctx, 1, "hi").
			Return(domain.Message{ID: 1, PostedBy: 1, MessageText: "hi", TimePostedEpoch: 100}, nil)

		msg, err := s.service.Update(s.ctx, domain.Message{ID: 1, PostedBy: 999, MessageText: "hi"})
		s.Require().NoError(err)
		s.Equal(1, msg.PostedBy)
		s.Equal(int64(100), msg.TimePostedEpoch)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.MessagesUpdated))
	})

	s.Run("blank text is rejected before the store", func() {
		_, err := s.service.Update(s.ctx, domain.Message{ID: 1, MessageText: ""})
		s.Require().ErrorIs(err, domain.ErrValidation)
	})

	s.Run("missing message", func() {
		s.messages.EXPECT().UpdateMessageText(s.ctx, 404, "hi").
			Return(domain.Message{}, domain.NotFound(domain.ReasonMessageNotFound))

		_, err := s.service.Update(s.ctx, domain.Message{ID: 404, MessageText: "hi"})
		s.Require().ErrorIs(err, domain.ErrNotFound)
	})
}

func (s *MessageServiceSuite) TestReadsAndDelete() {
	s.messages.EXPECT().GetMessage(s.ctx, 3).Return(domain.Message{}, false, nil)
	s.messages.EXPECT().ListMessagesByAuthor(s.ctx, 7).Return(nil, nil)
	s.messages.EXPECT().ListMessages(s.ctx).Return(nil, errors.New("timeout"))
	removed := domain.Message{ID: 4, PostedBy: 1, MessageText: "bye", TimePostedEpoch: 10}
	s.messages.EXPECT().DeleteMessage(s.ctx, 3).Return(domain.Message{}, false, nil)
	s.messages.EXPECT().DeleteMessage(s.ctx, 4).Return(removed, true, nil)

	_, found, err := s.service.Get(s.ctx, 3)
	s.Require().NoError(err)
	s.False(found)

	msgs, err := s.service.ListByAuthor(s.ctx, 7)
	s.Require().NoError(err)
	s.NotNil(msgs)
	s.Empty(msgs)

	_, err = s.service.List(s.ctx)
	s.Require().ErrorIs(err, domain.ErrStorage)

	_, deleted, err := s.service.Delete(s.ctx, 3)
	s.Require().NoError(err)
	s.False(deleted)

	got, deleted, err := s.service.Delete(s.ctx, 4)
	s.Require().NoError(err)
	s.True(deleted)
	s.Equal(removed, got)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.MessagesDeleted))
}
