package store

import (
	"context"
	"slices"
	"sync"

	"github.com/anaparv/anaparv-pep-project/pkg/domain"
)

// MemoryStore keeps accounts and messages in-process. Used for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[int]domain.Account
	usernames map[string]int // username -> account ID
	messages  map[int]domain.Message
	orders    []int // message IDs, ascending
	nextAcct  int
	nextMsg   int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[int]domain.Account),
		usernames: make(map[string]int),
		messages:  make(map[int]domain.Message),
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// CreateAccount inserts an account. The username check happens under the write lock,
// so concurrent registrations of one name yield exactly one success.
func (m *MemoryStore) CreateAccount(_ context.Context, username, password string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.usernames[username]; taken {
		return domain.Account{}, domain.Validation(domain.ReasonUsernameTaken)
	}
	m.nextAcct++
	acct := domain.Account{ID: m.nextAcct, Username: username, Password: password}
	m.accounts[acct.ID] = acct
	m.usernames[username] = acct.ID
	return acct, nil
}

func (m *MemoryStore) HasUsername(_ context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.usernames[username]
	return ok, nil
}

func (m *MemoryStore) HasAccountID(_ context.Context, id int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[id]
	return ok, nil
}

// GetAccountByCredentials matches username and password exactly.
func (m *MemoryStore) GetAccountByCredentials(_ context.Context, username, password string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[username]
	if !ok {
		return domain.Account{}, false, nil
	}
	acct := m.accounts[id]
	if acct.Password != password {
		return domain.Account{}, false, nil
	}
	return acct, true, nil
}

// CreateMessage validates and stores a new message with the next id.
func (m *MemoryStore) CreateMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	if err := domain.ValidateMessageText(msg.MessageText); err != nil {
		return domain.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[msg.PostedBy]; !ok {
		return domain.Message{}, domain.Validation(domain.ReasonAuthorNotFound)
	}
	m.nextMsg++
	msg.ID = m.nextMsg
	m.messages[msg.ID] = msg
	m.orders = append(m.orders, msg.ID)
	return msg, nil
}

func (m *MemoryStore) GetMessage(_ context.Context, id int) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	return msg, ok, nil
}

// ListMessages returns messages ordered by id.
func (m *MemoryStore) ListMessages(_ context.Context) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Message, 0, len(m.orders))
	for _, id := range m.orders {
		res = append(res, m.messages[id])
	}
	return res, nil
}

// ListMessagesByAuthor returns messages filtered by author, ordered by id.
func (m *MemoryStore) ListMessagesByAuthor(_ context.Context, accountID int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Message, 0)
	for _, id := range m.orders {
		if msg := m.messages[id]; msg.PostedBy == accountID {
			res = append(res, msg)
		}
	}
	return res, nil
}

// UpdateMessageText replaces only the text of an existing message.
func (m *MemoryStore) UpdateMessageText(_ context.Context, id int, text string) (domain.Message, error) {
	if err := domain.ValidateMessageText(text); err != nil {
		return domain.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return domain.Message{}, domain.NotFound(domain.ReasonMessageNotFound)
	}
	msg.MessageText = text
	m.messages[id] = msg
	return msg, nil
}

func (m *MemoryStore) DeleteMessage(_ context.Context, id int) (domain.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return domain.Message{}, false, nil
	}
	delete(m.messages, id)
	if i, found := slices.BinarySearch(m.orders, id); found {
		m.orders = slices.Delete(m.orders, i, i+1)
	}
	return msg, true, nil
}
