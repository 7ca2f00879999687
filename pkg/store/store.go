//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

package store

import (
	"context"

	"github.com/anaparv/anaparv-pep-project/pkg/domain"
)

// AccountStore defines persistence operations for accounts.
// Lookups report absence with a false flag; errors are reserved for failures.
type AccountStore interface {
	CreateAccount(ctx context.Context, username, password string) (domain.Account, error)
	HasUsername(ctx context.Context, username string) (bool, error)
	HasAccountID(ctx context.Context, id int) (bool, error)
	GetAccountByCredentials(ctx context.Context, username, password string) (domain.Account, bool, error)
}

// MessageStore defines persistence operations for messages.
// Implementations re-validate message text and author existence on writes.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	GetMessage(ctx context.Context, id int) (domain.Message, bool, error)
	ListMessages(ctx context.Context) ([]domain.Message, error)
	ListMessagesByAuthor(ctx context.Context, accountID int) ([]domain.Message, error)
	UpdateMessageText(ctx context.Context, id int, text string) (domain.Message, error)
	DeleteMessage(ctx context.Context, id int) (domain.Message, bool, error)
}

// Store is the full persistence surface implemented by every backend.
type Store interface {
	AccountStore
	MessageStore
	Close() error
}
