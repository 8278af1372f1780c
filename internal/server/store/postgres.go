package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/postbox/internal/common"
	"github.com/dmitrijs2005/postbox/internal/dbx"
	"github.com/dmitrijs2005/postbox/internal/server/store/migrations"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore keeps user records and mailboxes in two tables; deleting a
// user removes the mailbox in the same transaction, matching the recursive
// container delete of the filesystem backend.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database, waits for it to become reachable and
// applies embedded migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(db.PingContext(ctx))
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, s.db, ".")
}

// Conn exposes the underlying handle for tests.
func (s *PostgresStore) Conn() *sql.DB {
	return s.db
}

func newPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Exists(ctx context.Context, username string) (bool, error) {
	if !ValidUsername(username) {
		return false, ErrInvalidUsername
	}

	query :=
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)
		 `

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return exists, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *UserRecord) error {
	if !ValidUsername(rec.Username) {
		return ErrInvalidUsername
	}

	query :=
		`INSERT INTO users (username, status, addr, port, last_message_id)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	_, err := s.db.ExecContext(ctx, query,
		rec.Username, rec.Status, rec.Addr, int32(rec.Port), int64(rec.LastMessageID))

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return common.ErrorExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (s *PostgresStore) Read(ctx context.Context, username string) (*UserRecord, error) {
	if !ValidUsername(username) {
		return nil, ErrInvalidUsername
	}

	query :=
		`SELECT username, status, addr, port, last_message_id FROM users
		 WHERE username = $1
		 `

	rec := &UserRecord{}
	var (
		status int16
		port   int32
		lastID int64
	)
	err := s.db.QueryRowContext(ctx, query, username).
		Scan(&rec.Username, &status, &rec.Addr, &port, &lastID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	rec.Status = Status(status)
	rec.Port = uint16(port)
	rec.LastMessageID = uint32(lastID)
	return rec, nil
}

func (s *PostgresStore) Modify(ctx context.Context, rec *UserRecord) error {
	if !ValidUsername(rec.Username) {
		return ErrInvalidUsername
	}

	query :=
		`UPDATE users SET status = $2, addr = $3, port = $4, last_message_id = $5
		 WHERE username = $1
		 `

	res, err := s.db.ExecContext(ctx, query,
		rec.Username, rec.Status, rec.Addr, int32(rec.Port), int64(rec.LastMessageID))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}

	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, username string) error {
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}

	// Drop the mailbox together with the user record.
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM pending_messages
			 WHERE recipient = $1
			 `, username)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM users
			 WHERE username = $1
			 `, username)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if affected == 0 {
			return common.ErrorNotFound
		}

		return nil
	})
}

func (s *PostgresStore) NextPending(ctx context.Context, username string) (*PendingMessage, error) {
	if !ValidUsername(username) {
		return nil, ErrInvalidUsername
	}

	query :=
		`SELECT recipient, id, sender, content FROM pending_messages
		 WHERE recipient = $1
		 ORDER BY id
		 LIMIT 1
		 `

	msg := &PendingMessage{}
	var id int64
	err := s.db.QueryRowContext(ctx, query, username).
		Scan(&msg.Recipient, &id, &msg.Sender, &msg.Content)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	msg.ID = uint32(id)
	return msg, nil
}

func (s *PostgresStore) CreatePending(ctx context.Context, msg *PendingMessage) error {
	if !ValidUsername(msg.Recipient) {
		return ErrInvalidUsername
	}

	query :=
		`INSERT INTO pending_messages (recipient, id, sender, content)
		 VALUES ($1, $2, $3, $4)
		 `

	_, err := s.db.ExecContext(ctx, query,
		msg.Recipient, int64(msg.ID), msg.Sender, msg.Content)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return common.ErrorExists
			case pgForeignKeyViolation:
				return common.ErrorNotFound
			}
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (s *PostgresStore) DeletePending(ctx context.Context, recipient string, id uint32) error {
	if !ValidUsername(recipient) {
		return ErrInvalidUsername
	}

	query :=
		`DELETE FROM pending_messages
		 WHERE recipient = $1 AND id = $2
		 `

	res, err := s.db.ExecContext(ctx, query, recipient, int64(id))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}

	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
