package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/anaparv/anaparv-pep-project/pkg/domain"
)

const migrateLockID int64 = 51061921

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type GormStoreOptions struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type GormStoreOption func(*GormStoreOptions)

// WithMaxOpenConns caps the shared connection pool.
func WithMaxOpenConns(n int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = n
	}
}

// WithConnMaxLifetime recycles pooled connections after d.
func WithConnMaxLifetime(d time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.ConnMaxLifetime = d
	}
}

// GormStore implements Store using GORM + Postgres. It holds no state besides the
// pool; every call runs in its own session bound to the caller's context.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the DB and runs migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	db, err := openGorm(postgres.Open(dsn))
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openGorm(dialector gorm.Dialector) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLog,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return db, nil
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&AccountModel{}, &MessageModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'message'
				AND constraint_name = 'message_posted_by_fkey'
			) THEN
				ALTER TABLE message
				ADD CONSTRAINT message_posted_by_fkey
				FOREIGN KEY (posted_by) REFERENCES account(account_id);
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure message author foreign key: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks backend connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateAccount inserts an account and returns it with its assigned id.
// The unique index on username is authoritative: a violation is reported as a
// validation error, even when a concurrent caller won the race after a pre-check.
func (s *GormStore) CreateAccount(ctx context.Context, username, password string) (domain.Account, error) {
	model := AccountModel{Username: username, Password: password}
	res := s.db.WithContext(ctx).Create(&model)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return domain.Account{}, domain.Validation(domain.ReasonUsernameTaken)
		}
		return domain.Account{}, domain.Storage("create account", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Account{}, domain.Storagef("create account", "no rows affected")
	}
	if model.ID == 0 {
		return domain.Account{}, domain.Storagef("create account", "no id obtained")
	}
	return accountFromModel(model), nil
}

// HasUsername checks if any account uses username (exact, case-sensitive).
func (s *GormStore) HasUsername(ctx context.Context, username string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&AccountModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, domain.Storage("check username", err)
	}
	return count > 0, nil
}

// HasAccountID checks if an account with id exists.
func (s *GormStore) HasAccountID(ctx context.Context, id int) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&AccountModel{}).Where("account_id = ?", id).Count(&count).Error; err != nil {
		return false, domain.Storage("check account id", err)
	}
	return count > 0, nil
}

// GetAccountByCredentials returns the account matching both fields exactly.
func (s *GormStore) GetAccountByCredentials(ctx context.Context, username, password string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).Where("username = ? AND password = ?", username, password).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, domain.Storage("find account by credentials", err)
	}
	return accountFromModel(model), true, nil
}

// CreateMessage validates and inserts a message, returning it with its assigned id.
func (s *GormStore) CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if err := domain.ValidateMessageText(msg.MessageText); err != nil {
		return domain.Message{}, err
	}
	exists, err := s.HasAccountID(ctx, msg.PostedBy)
	if err != nil {
		return domain.Message{}, err
	}
	if !exists {
		return domain.Message{}, domain.Validation(domain.ReasonAuthorNotFound)
	}
	model := messageToModel(msg)
	model.ID = 0
	res := s.db.WithContext(ctx).Create(&model)
	if res.Error != nil {
		if isForeignKeyViolation(res.Error) {
			return domain.Message{}, domain.Validation(domain.ReasonAuthorNotFound)
		}
		return domain.Message{}, domain.Storage("create message", res.Error)
	}
	if res.RowsAffected == 0 || model.ID == 0 {
		return domain.Message{}, domain.Storagef("create message", "no id obtained")
	}
	return messageFromModel(model), nil
}

// GetMessage returns a message by id.
func (s *GormStore) GetMessage(ctx context.Context, id int) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.WithContext(ctx).First(&model, "message_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, domain.Storage("get message", err)
	}
	return messageFromModel(model), true, nil
}

// ListMessages returns all messages ordered by id.
func (s *GormStore) ListMessages(ctx context.Context) ([]domain.Message, error) {
	return s.listMessages(ctx)
}

// ListMessagesByAuthor returns messages posted by accountID, ordered by id.
func (s *GormStore) ListMessagesByAuthor(ctx context.Context, accountID int) ([]domain.Message, error) {
	return s.listMessages(ctx, "posted_by = ?", accountID)
}

func (s *GormStore) listMessages(ctx context.Context, conds ...any) ([]domain.Message, error) {
	var models []MessageModel
	tx := s.db.WithContext(ctx).Order("message_id ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, domain.Storage("list messages", err)
	}
	return messagesFromModels(models), nil
}

// UpdateMessageText replaces the text of message id and returns the stored row.
// Author and timestamp are untouched.
func (s *GormStore) UpdateMessageText(ctx context.Context, id int, text string) (domain.Message, error) {
	if err := domain.ValidateMessageText(text); err != nil {
		return domain.Message{}, err
	}
	var model MessageModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&MessageModel{}).Where("message_id = ?", id).Update("message_text", text)
		if res.Error != nil {
			return domain.Storage("update message text", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.NotFound(domain.ReasonMessageNotFound)
		}
		if err := tx.First(&model, "message_id = ?", id).Error; err != nil {
			return domain.Storage("reload message", err)
		}
		return nil
	})
	if err != nil {
		if domain.IsClassified(err) {
			return domain.Message{}, err
		}
		return domain.Message{}, domain.Storage("update message text", err)
	}
	return messageFromModel(model), nil
}

// DeleteMessage removes message id and returns the removed row in the same statement.
func (s *GormStore) DeleteMessage(ctx context.Context, id int) (domain.Message, bool, error) {
	var removed []MessageModel
	res := s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("message_id = ?", id).
		Delete(&removed)
	if res.Error != nil {
		return domain.Message{}, false, domain.Storage("delete message", res.Error)
	}
	if len(removed) == 0 {
		return domain.Message{}, false, nil
	}
	return messageFromModel(removed[0]), true, nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || pgErrorCode(err) == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return errors.Is(err, gorm.ErrForeignKeyViolated) || pgErrorCode(err) == pgForeignKeyViolation
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
