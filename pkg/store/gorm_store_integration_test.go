//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/anaparv/anaparv-pep-project/pkg/domain"
	"github.com/anaparv/anaparv-pep-project/pkg/store"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	store     *store.GormStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("social"),
		tcpostgres.WithUsername("social"),
		tcpostgres.WithPassword("social"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.store, err = store.NewGormStore(dsn, store.WithMaxOpenConns(20))
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresStoreSuite) TestMigrationIsIdempotent() {
	dsn, err := s.container.ConnectionString(context.Background(), "sslmode=disable")
	s.Require().NoError(err)
	again, err := store.NewGormStore(dsn)
	s.Require().NoError(err)
	s.Require().NoError(again.Close())
}

// TestConcurrentDuplicateRegistration verifies the unique index decides races that slip
// past a read-then-write check.
func (s *PostgresStoreSuite) TestConcurrentDuplicateRegistration() {
	ctx := context.Background()
	const goroutines = 25

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var conflictCount atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.CreateAccount(ctx, "concurrent-user", "secret")
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, domain.ErrValidation) && domain.Reason(err) == domain.ReasonUsernameTaken {
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one registration should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should see a duplicate username")
}

func (s *PostgresStoreSuite) TestMessageLifecycle() {
	ctx := context.Background()
	author, err := s.store.CreateAccount(ctx, "lifecycle-author", "secret")
	s.Require().NoError(err)

	created, err := s.store.CreateMessage(ctx, domain.Message{PostedBy: author.ID, MessageText: "hello", TimePostedEpoch: 1700000000})
	s.Require().NoError(err)
	s.NotZero(created.ID)

	updated, err := s.store.UpdateMessageText(ctx, created.ID, "hello again")
	s.Require().NoError(err)
	s.Equal(created.TimePostedEpoch, updated.TimePostedEpoch)
	s.Equal(author.ID, updated.PostedBy)

	byAuthor, err := s.store.ListMessagesByAuthor(ctx, author.ID)
	s.Require().NoError(err)
	s.Require().Len(byAuthor, 1)
	s.Equal("hello again", byAuthor[0].MessageText)

	removed, deleted, err := s.store.DeleteMessage(ctx, created.ID)
	s.Require().NoError(err)
	s.True(deleted)
	s.Equal(updated, removed)

	_, found, err := s.store.GetMessage(ctx, created.ID)
	s.Require().NoError(err)
	s.False(found)
}

func (s *PostgresStoreSuite) TestForeignKeyRejectsUnknownAuthor() {
	_, err := s.store.CreateMessage(context.Background(), domain.Message{PostedBy: 987654, MessageText: "orphan", TimePostedEpoch: 1})
	s.Require().ErrorIs(err, domain.ErrValidation)
	s.Equal(domain.ReasonAuthorNotFound, domain.Reason(err))
}
