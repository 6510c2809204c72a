package repositories

import (
	"context"
	"embed"
	goerrors "errors"
	"fmt"
	"log/slog"
	"ringside/domain"
	"ringside/errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	insertMessageQuery = `INSERT INTO direct_messages (sender_id, recipient_id, body)
VALUES ($1, $2, $3)
RETURNING id, created_at`

	fetchThreadQuery = `SELECT id, sender_id, recipient_id, body, created_at
FROM direct_messages
WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
ORDER BY created_at, id`
)

type messageRow struct {
	ID          int64     `db:"id"`
	SenderID    string    `db:"sender_id"`
	RecipientID string    `db:"recipient_id"`
	Body        string    `db:"body"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r messageRow) toDomain() domain.Message {
	return domain.Message{
		ID:          uint64(r.ID),
		SenderID:    domain.UserID(r.SenderID),
		RecipientID: domain.UserID(r.RecipientID),
		Body:        r.Body,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

// PostgresMessageStore keeps messages in the direct_messages table.
type PostgresMessageStore struct {
	db  *sqlx.DB
	log *slog.Logger
}

// OpenPostgresMessageStore connects through pgx and applies pending migrations.
func OpenPostgresMessageStore(ctx context.Context, dsn string, log *slog.Logger) (*PostgresMessageStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, errors.StoreUnavailable("open postgres", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.StoreUnavailable("ping postgres", err)
	}
	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresMessageStore(db, log), nil
}

func NewPostgresMessageStore(db *sqlx.DB, log *slog.Logger) *PostgresMessageStore {
	return &PostgresMessageStore{db: db, log: log}
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(db *sqlx.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not read migrations: %w", err)
	}
	driver, err := migratepgx.WithInstance(db.DB, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !goerrors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresMessageStore) Insert(ctx context.Context, sender, recipient domain.UserID, body string) (domain.Message, error) {
	row := messageRow{SenderID: string(sender), RecipientID: string(recipient), Body: body}
	err := s.db.QueryRowxContext(ctx, insertMessageQuery, row.SenderID, row.RecipientID, row.Body).
		Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return domain.Message{}, errors.StoreUnavailable("insert", err)
	}
	return row.toDomain(), nil
}

func (s *PostgresMessageStore) FetchThread(ctx context.Context, a, b domain.UserID) ([]domain.Message, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, fetchThreadQuery, string(a), string(b)); err != nil {
		return nil, errors.StoreUnavailable("fetch thread", err)
	}
	messages := lo.Map(rows, func(r messageRow, _ int) domain.Message { return r.toDomain() })
	domain.SortThread(messages)
	return messages, nil
}

func (s *PostgresMessageStore) Close() error {
	return s.db.Close()
}
