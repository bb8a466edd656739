// Package postgres implements the user repository on PostgreSQL, with
// an optional Redis read-through cache layered on top. The same SQL
// runs against SQLite in tests.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/identity"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Store implements identity.Repository on a SQL database. The user
// document is the row; secondary index entries are mirrored into a
// side table inside the same transaction so lookups stay a join, not
// a table scan.
type Store struct {
	db      *sql.DB
	driver  string
	metrics *observability.Metrics
}

// NewStore creates the store and runs migrations. metrics may be nil.
func NewStore(db *sql.DB, driver string, metrics *observability.Metrics) (*Store, error) {
	s := &Store{
		db:      db,
		driver:  driver,
		metrics: metrics,
	}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	blobType := "BYTEA"
	if s.driver == "sqlite3" {
		blobType = "BLOB"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			informations TEXT NOT NULL,
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			group_ids TEXT NOT NULL,
			index_entries TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			avatar_size BIGINT NOT NULL DEFAULT 0,
			avatar_format TEXT,
			avatar_upload_date TIMESTAMP,
			avatar_data %s,
			avatar_thumbnail %s,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, blobType, blobType),
		`CREATE TABLE IF NOT EXISTS user_indexes (
			user_id TEXT NOT NULL,
			typeid TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (user_id, typeid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_indexes_lookup ON user_indexes (typeid, value)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

const userColumns = `id, informations, disabled, group_ids, index_entries, password_hash,
	avatar_size, avatar_format, avatar_upload_date, avatar_data, avatar_thumbnail,
	created_at, updated_at`

// Create inserts a new user document
func (s *Store) Create(ctx context.Context, user *identity.User) (err error) {
	start := time.Now()
	defer func() { s.observe("create", start, err) }()

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	informations, groups, indexes, err := encodeDocument(user)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		user.ID.String(), informations, user.Disabled, groups, indexes,
		user.PasswordHash, user.Avatar.Size, user.Avatar.Format,
		nullTime(user.Avatar.UploadDate), user.Avatar.Data, user.Avatar.Thumbnail,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	if err = insertIndexRows(ctx, tx, user); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Get loads a user by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (user *identity.User, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err) }()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE id = $1`, id.String())

	user, err = scanUser(row)
	if err == sql.ErrNoRows {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// List returns up to count users with id greater than previous, ordered
// by id. A zero count means no limit.
func (s *Store) List(ctx context.Context, previous uuid.UUID, count int) (users []*identity.User, err error) {
	start := time.Now()
	defer func() { s.observe("list", start, err) }()

	query := `SELECT ` + userColumns + ` FROM users WHERE id > $1 ORDER BY id`
	args := []interface{}{previous.String()}
	if count > 0 {
		query += ` LIMIT $2`
		args = append(args, count)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// FindByIndex returns all users holding an index entry with the given
// typeid and value, ordered by id
func (s *Store) FindByIndex(ctx context.Context, typeid, value string) (users []*identity.User, err error) {
	start := time.Now()
	defer func() { s.observe("find_by_index", start, err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("u")+`
		FROM users u
		JOIN user_indexes i ON i.user_id = u.id
		WHERE i.typeid = $1 AND i.value = $2
		ORDER BY u.id`, typeid, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// Save writes back the whole user document and refreshes the index
// side table in the same transaction
func (s *Store) Save(ctx context.Context, user *identity.User) (saved *identity.User, err error) {
	start := time.Now()
	defer func() { s.observe("save", start, err) }()

	informations, groups, indexes, err := encodeDocument(user)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET
			informations = $1, disabled = $2, group_ids = $3, index_entries = $4,
			password_hash = $5, avatar_size = $6, avatar_format = $7,
			avatar_upload_date = $8, avatar_data = $9, avatar_thumbnail = $10,
			updated_at = $11
		WHERE id = $12`,
		informations, user.Disabled, groups, indexes,
		user.PasswordHash, user.Avatar.Size, user.Avatar.Format,
		nullTime(user.Avatar.UploadDate), user.Avatar.Data, user.Avatar.Thumbnail,
		user.UpdatedAt, user.ID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, identity.ErrNotFound
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_indexes WHERE user_id = $1`, user.ID.String()); err != nil {
		return nil, fmt.Errorf("failed to clear index rows: %w", err)
	}
	if err = insertIndexRows(ctx, tx, user); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return user, nil
}

// Delete removes a user document and its index rows
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return identity.ErrNotFound
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_indexes WHERE user_id = $1`, id.String()); err != nil {
		return fmt.Errorf("failed to delete index rows: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Count returns the total number of user documents
func (s *Store) Count(ctx context.Context) (count int64, err error) {
	start := time.Now()
	defer func() { s.observe("count", start, err) }()

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveStorageOperation(operation, start, err)
	}
}

func insertIndexRows(ctx context.Context, tx *sql.Tx, user *identity.User) error {
	for _, idx := range user.Indexes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_indexes (user_id, typeid, value)
			VALUES ($1, $2, $3)`,
			user.ID.String(), idx.TypeID, idx.Value)
		if err != nil {
			return fmt.Errorf("failed to insert index row: %w", err)
		}
	}
	return nil
}

func encodeDocument(user *identity.User) (informations, groups, indexes string, err error) {
	if user.Informations == nil {
		user.Informations = make(map[string]string)
	}
	if user.Groups == nil {
		user.Groups = make([]uuid.UUID, 0)
	}
	if user.Indexes == nil {
		user.Indexes = make([]identity.UserIndex, 0)
	}

	rawInformations, err := json.Marshal(user.Informations)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal informations: %w", err)
	}
	rawGroups, err := json.Marshal(user.Groups)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal groups: %w", err)
	}
	rawIndexes, err := json.Marshal(user.Indexes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal indexes: %w", err)
	}
	return string(rawInformations), string(rawGroups), string(rawIndexes), nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*identity.User, error) {
	var (
		id           string
		informations string
		groups       string
		indexes      string
		format       sql.NullString
		uploadDate   sql.NullTime
		user         identity.User
	)

	err := row.Scan(
		&id, &informations, &user.Disabled, &groups, &indexes,
		&user.PasswordHash, &user.Avatar.Size, &format, &uploadDate,
		&user.Avatar.Data, &user.Avatar.Thumbnail,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(informations), &user.Informations); err != nil {
		return nil, fmt.Errorf("corrupt informations for user %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(groups), &user.Groups); err != nil {
		return nil, fmt.Errorf("corrupt groups for user %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(indexes), &user.Indexes); err != nil {
		return nil, fmt.Errorf("corrupt indexes for user %s: %w", id, err)
	}
	if format.Valid {
		user.Avatar.Format = format.String
	}
	if uploadDate.Valid {
		user.Avatar.UploadDate = uploadDate.Time
	}
	return &user, nil
}

func collectUsers(rows *sql.Rows) ([]*identity.User, error) {
	users := make([]*identity.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func prefixColumns(alias string) string {
	return alias + `.id, ` + alias + `.informations, ` + alias + `.disabled, ` +
		alias + `.group_ids, ` + alias + `.index_entries, ` + alias + `.password_hash, ` +
		alias + `.avatar_size, ` + alias + `.avatar_format, ` + alias + `.avatar_upload_date, ` +
		alias + `.avatar_data, ` + alias + `.avatar_thumbnail, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
