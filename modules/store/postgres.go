package store

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/example/chat-relay/domain/chat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         BIGSERIAL PRIMARY KEY,
	name       VARCHAR(100) NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS users (
	id                BIGSERIAL PRIMARY KEY,
	name              VARCHAR(50) NOT NULL UNIQUE,
	room              VARCHAR(100),
	connection_handle VARCHAR(64),
	status            INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_users_room ON users (room);
CREATE INDEX IF NOT EXISTS idx_users_connection_handle ON users (connection_handle);
CREATE TABLE IF NOT EXISTS messages (
	id         BIGSERIAL PRIMARY KEY,
	author     VARCHAR(50) NOT NULL,
	room       VARCHAR(100) NOT NULL,
	content    TEXT NOT NULL,
	token      VARCHAR(128) NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (room, id);
`

// PostgresRepository implements Port on a pgx connection pool, for
// deployments where relay processes run on different hosts.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Port = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository on pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// OpenPostgres connects to databaseURL and migrates the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return pool, nil
}

// UpsertRoom inserts the room if absent and returns its id.
func (r *PostgresRepository) UpsertRoom(ctx context.Context, name string) (uint, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO rooms (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, domain.Transient("upsert room", err)
	}
	return uint(id), nil
}

// UpsertUser inserts or updates the user in one transaction.
func (r *PostgresRepository) UpsertUser(ctx context.Context, name, room, handle string) (uint, error) {
	var id int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE users SET connection_handle = NULL, status = $3, updated_at = now()
			WHERE connection_handle = $1 AND name <> $2`,
			handle, name, int(domain.StatusOffline)); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			INSERT INTO users (name, room, connection_handle, status) VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET
				room = EXCLUDED.room,
				connection_handle = EXCLUDED.connection_handle,
				status = EXCLUDED.status,
				updated_at = now()
			RETURNING id`,
			name, room, handle, int(domain.StatusOnline)).Scan(&id)
	})
	if err != nil {
		return 0, domain.Transient("upsert user", err)
	}
	return uint(id), nil
}

// AppendMessage stores a message. The unique constraint on token rejects retries.
func (r *PostgresRepository) AppendMessage(ctx context.Context, author, room, content, token string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (author, room, content, token) VALUES ($1, $2, $3, $4)
		RETURNING id`, author, room, content, token).Scan(&id)
	if err != nil {
		if isPgDuplicateKeyError(err) {
			return 0, domain.ErrDuplicateToken
		}
		return 0, domain.Transient("append message", err)
	}
	return id, nil
}

// MessagesSince returns up to limit messages of room with id greater than
// offset. LIMIT NULL means no limit.
func (r *PostgresRepository) MessagesSince(ctx context.Context, room string, offset int64, limit int) ([]domain.Message, error) {
	var limitArg *int64
	if limit > 0 {
		n := int64(limit)
		limitArg = &n
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, author, room, content, token, created_at FROM messages
		WHERE room = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`, room, offset, limitArg)
	if err != nil {
		return nil, domain.Transient("messages since", err)
	}

	messages, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.Message])
	if err != nil {
		return nil, domain.Transient("messages since", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// SetUserStatus updates the user currently bound to handle.
func (r *PostgresRepository) SetUserStatus(ctx context.Context, handle string, status domain.Status) (*domain.User, error) {
	var user *domain.User
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		found, err := scanUser(tx.QueryRow(ctx, `
			SELECT id, name, room, connection_handle, status FROM users
			WHERE connection_handle = $1
			FOR UPDATE`, handle))
		if err != nil {
			return err
		}
		user = found

		if status == domain.StatusOffline {
			_, err = tx.Exec(ctx, `
				UPDATE users SET status = $2, connection_handle = NULL, updated_at = now()
				WHERE id = $1`, int64(found.ID), int(status))
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE users SET status = $2, updated_at = now()
				WHERE id = $1`, int64(found.ID), int(status))
		}
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Transient("set user status", err)
	}
	return user, nil
}

// FindUser retrieves a user by name.
func (r *PostgresRepository) FindUser(ctx context.Context, name string) (*domain.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `
		SELECT id, name, room, connection_handle, status FROM users
		WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Transient("find user", err)
	}
	return user, nil
}

// RoomSnapshot returns every room with its online members.
func (r *PostgresRepository) RoomSnapshot(ctx context.Context) (domain.Snapshot, error) {
	rows, err := r.pool.Query(ctx, snapshotQuery)
	if err != nil {
		return nil, domain.Transient("room snapshot", err)
	}

	collected, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (snapshotRow, error) {
		var s snapshotRow
		err := row.Scan(&s.Room, &s.Name, &s.Status)
		return s, err
	})
	if err != nil {
		return nil, domain.Transient("room snapshot", err)
	}
	return buildSnapshot(collected), nil
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		id     int64
		user   domain.User
		room   *string
		handle *string
		status int
	)
	if err := row.Scan(&id, &user.Name, &room, &handle, &status); err != nil {
		return nil, err
	}
	user.ID = uint(id)
	user.Status = domain.Status(status)
	if room != nil {
		user.Room = *room
	}
	if handle != nil {
		user.ConnectionHandle = *handle
	}
	return &user, nil
}

// isPgDuplicateKeyError checks if error is a PostgreSQL unique violation.
func isPgDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
