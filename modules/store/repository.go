package store

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/example/chat-relay/domain/chat"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// sqliteParams makes concurrent writers from several processes wait on the
// file lock instead of failing immediately.
const sqliteParams = "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"

// OpenSQLite opens the SQLite database at path and migrates the schema.
func OpenSQLite(path string, debug bool) (*gorm.DB, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path+sqliteParams), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&User{}, &Room{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Repository implements Port on top of GORM.
type Repository struct {
	db *gorm.DB
}

var _ Port = (*Repository)(nil)

// NewRepository creates a new repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UpsertRoom inserts the room if absent. A concurrent insert of the same name
// resolves to a no-op on the uniqueness constraint.
func (r *Repository) UpsertRoom(ctx context.Context, name string) (uint, error) {
	db := r.db.WithContext(ctx)

	row := Room{Name: name}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return 0, domain.Transient("upsert room", err)
	}

	var saved Room
	if err := db.Where("name = ?", name).First(&saved).Error; err != nil {
		return 0, domain.Transient("upsert room", err)
	}
	return saved.ID, nil
}

// UpsertUser inserts or updates the user in one transaction.
func (r *Repository) UpsertUser(ctx context.Context, name, room, handle string) (uint, error) {
	var saved User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Last join wins: the handle now belongs to name only.
		if err := tx.Model(&User{}).
			Where("connection_handle = ? AND name <> ?", handle, name).
			Updates(map[string]any{
				"connection_handle": nil,
				"status":            domain.StatusOffline,
			}).Error; err != nil {
			return err
		}

		row := User{
			Name:             name,
			Room:             &room,
			ConnectionHandle: &handle,
			Status:           domain.StatusOnline,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"room", "connection_handle", "status", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return err
		}

		return tx.Where("name = ?", name).First(&saved).Error
	})
	if err != nil {
		return 0, domain.Transient("upsert user", err)
	}
	return saved.ID, nil
}

// AppendMessage stores a message. The unique index on token rejects retries.
func (r *Repository) AppendMessage(ctx context.Context, author, room, content, token string) (int64, error) {
	row := Message{
		Author:  author,
		Room:    room,
		Content: content,
		Token:   token,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return 0, domain.ErrDuplicateToken
		}
		return 0, domain.Transient("append message", err)
	}
	return row.ID, nil
}

// MessagesSince returns up to limit messages of room with id greater than
// offset.
func (r *Repository) MessagesSince(ctx context.Context, room string, offset int64, limit int) ([]domain.Message, error) {
	query := r.db.WithContext(ctx).
		Where("room = ? AND id > ?", room, offset).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []Message
	if err := query.Find(&rows).Error; err != nil {
		return nil, domain.Transient("messages since", err)
	}

	messages := make([]domain.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toDomain())
	}
	return messages, nil
}

// SetUserStatus updates the user currently bound to handle.
func (r *Repository) SetUserStatus(ctx context.Context, handle string, status domain.Status) (*domain.User, error) {
	var before User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("connection_handle = ?", handle).First(&before).Error; err != nil {
			return err
		}

		updates := map[string]any{"status": status}
		if status == domain.StatusOffline {
			updates["connection_handle"] = nil
		}
		return tx.Model(&User{}).Where("id = ?", before.ID).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Transient("set user status", err)
	}
	return before.toDomain(), nil
}

// FindUser retrieves a user by name.
func (r *Repository) FindUser(ctx context.Context, name string) (*domain.User, error) {
	var row User
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Transient("find user", err)
	}
	return row.toDomain(), nil
}

// RoomSnapshot returns every room with its online members.
func (r *Repository) RoomSnapshot(ctx context.Context) (domain.Snapshot, error) {
	var rows []snapshotRow
	if err := r.db.WithContext(ctx).Raw(snapshotQuery).Scan(&rows).Error; err != nil {
		return nil, domain.Transient("room snapshot", err)
	}
	return buildSnapshot(rows), nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// isUniqueViolation checks if err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
