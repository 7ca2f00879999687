package app

import (
	"context"
	"errors"

	"github.com/anaparv/anaparv-pep-project/internal/metrics"
	"github.com/anaparv/anaparv-pep-project/pkg/domain"
	"github.com/anaparv/anaparv-pep-project/pkg/store"
)

// AccountService enforces registration and login rules on top of an AccountStore.
type AccountService struct {
	accounts store.AccountStore
	options
}

// NewAccountService constructs an AccountService.
func NewAccountService(accounts store.AccountStore, opts ...Option) *AccountService {
	return &AccountService{accounts: accounts, options: newOptions(opts)}
}

// Register creates an account after checking, in order: non-blank username,
// password length, and username availability. The store's unique constraint
// still decides when two registrations race past the availability check.
func (s *AccountService) Register(ctx context.Context, username, password string) (domain.Account, error) {
	if err := domain.ValidateCredentials(username, password); err != nil {
		s.rejectRegistration(ctx, err)
		return domain.Account{}, err
	}
	taken, err := s.UsernameExists(ctx, username)
	if err != nil {
		return domain.Account{}, err
	}
	if taken {
		err := domain.Validation(domain.ReasonUsernameTaken)
		s.rejectRegistration(ctx, err)
		return domain.Account{}, err
	}
	acct, err := s.accounts.CreateAccount(ctx, username, password)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			s.rejectRegistration(ctx, err)
		}
		return domain.Account{}, classify("create account", err)
	}
	s.logAudit(ctx, "account_registered", "account_id", acct.ID, "username", acct.Username)
	s.inc(func(m *metrics.Metrics) { m.AccountsRegistered.Inc() })
	return acct, nil
}

func (s *AccountService) rejectRegistration(ctx context.Context, err error) {
	reason := domain.Reason(err)
	s.logAudit(ctx, "registration_rejected", "reason", reason)
	s.inc(func(m *metrics.Metrics) { m.RegistrationsDenied.WithLabelValues(reason).Inc() })
}

// Login returns the account matching username and password exactly. Every
// rejection carries the same reason so callers cannot probe for usernames.
func (s *AccountService) Login(ctx context.Context, username, password string) (domain.Account, error) {
	if err := domain.ValidateCredentials(username, password); err != nil {
		return domain.Account{}, s.loginFailed(ctx)
	}
	acct, found, err := s.accounts.GetAccountByCredentials(ctx, username, password)
	if err != nil {
		return domain.Account{}, classify("find account by credentials", err)
	}
	if !found {
		return domain.Account{}, s.loginFailed(ctx)
	}
	s.logAudit(ctx, "login_succeeded", "account_id", acct.ID)
	s.inc(func(m *metrics.Metrics) { m.LoginsSucceeded.Inc() })
	return acct, nil
}

func (s *AccountService) loginFailed(ctx context.Context) error {
	s.logAudit(ctx, "login_failed")
	s.inc(func(m *metrics.Metrics) { m.LoginsFailed.Inc() })
	return domain.Authentication(domain.ReasonInvalidCredentials)
}

func (s *AccountService) UsernameExists(ctx context.Context, username string) (bool, error) {
	ok, err := s.accounts.HasUsername(ctx, username)
	if err != nil {
		return false, classify("check username", err)
	}
	return ok, nil
}

func (s *AccountService) AccountExists(ctx context.Context, id int) (bool, error) {
	ok, err := s.accounts.HasAccountID(ctx, id)
	if err != nil {
		return false, classify("check account id", err)
	}
	return ok, nil
}
