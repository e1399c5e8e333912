package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
)

// DBTX is an interface that allows us to use either a connection pool, a
// connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements resourcebuilder.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS nodes (
		id          UUID PRIMARY KEY,
		path        TEXT NOT NULL UNIQUE,
		parent_path TEXT,
		name        TEXT NOT NULL,
		properties  JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS nodes_parent_path_idx ON nodes (parent_path);`

// EnsureSchema creates the nodes table and the root node when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return r.handlePostgresError("ensure schema", err)
	}
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO nodes (id, path, parent_path, name, properties, created_at, updated_at)
		VALUES ($1, $2, NULL, '', '{}'::jsonb, $3, $3)
		ON CONFLICT (path) DO NOTHING`,
		uuid.New(), rb.RootPath, now)
	if err != nil {
		return r.handlePostgresError("ensure root", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", operation, rb.ErrConflict)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - run EnsureSchema", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, rb.ErrNotFound)
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const nodeColumns = `id, path, properties, created_at, updated_at`

func scanNode(row pgx.Row) (*rb.Node, error) {
	var (
		n   rb.Node
		raw []byte
	)
	if err := row.Scan(&n.ID, &n.Path, &raw, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	props, err := rb.DecodeProperties(raw)
	if err != nil {
		return nil, fmt.Errorf("decode properties of %s: %w", n.Path, err)
	}
	n.Properties = props
	return &n, nil
}

func (r *Repository) GetNode(ctx context.Context, path string) (*rb.Node, error) {
	return getNode(ctx, r.db, path)
}

func getNode(ctx context.Context, db DBTX, path string) (*rb.Node, error) {
	row := db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE path = $1`, path)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rb.ErrNotFound
		}
		return nil, err
	}
	return n, nil
}

func (r *Repository) ListChildren(ctx context.Context, path string) ([]*rb.Node, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM nodes WHERE path = $1)`, path).Scan(&exists); err != nil {
		return nil, r.handlePostgresError("list children", err)
	}
	if !exists {
		return nil, rb.ErrNotFound
	}

	rows, err := r.db.Query(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE parent_path = $1 ORDER BY name`, path)
	if err != nil {
		return nil, r.handlePostgresError("list children", err)
	}
	defer rows.Close()

	var children []*rb.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list children", err)
	}
	return children, nil
}

// Apply runs all changes in one transaction.
func (r *Repository) Apply(ctx context.Context, changes []rb.Change) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("begin", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range changes {
		var err error
		switch c.Type {
		case rb.ChangeCreate:
			err = r.create(ctx, tx, c)
		case rb.ChangeUpdate:
			err = r.update(ctx, tx, c)
		case rb.ChangeDelete:
			err = r.delete(ctx, tx, c)
		default:
			err = fmt.Errorf("%w: unknown change type %q", rb.ErrInvalidArgument, c.Type)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", c.Type, c.Path, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return r.handlePostgresError("commit", err)
	}
	return nil
}

func (r *Repository) create(ctx context.Context, tx pgx.Tx, c rb.Change) error {
	if c.Path == rb.RootPath {
		return rb.ErrConflict
	}
	parent := rb.ParentPath(c.Path)
	if _, err := getNode(ctx, tx, parent); err != nil {
		return fmt.Errorf("parent: %w", err)
	}

	props := rb.Properties{}
	for k, v := range c.Properties {
		if v != nil {
			props[k] = v
		}
	}
	raw, err := rb.EncodeProperties(props)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO nodes (id, path, parent_path, name, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		c.NodeID, c.Path, parent, rb.BaseName(c.Path), raw, c.At)
	if err != nil {
		return r.handlePostgresError("create node", err)
	}
	return nil
}

func (r *Repository) update(ctx context.Context, tx pgx.Tx, c rb.Change) error {
	row := tx.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE path = $1 FOR UPDATE`, c.Path)
	n, err := scanNode(row)
	if err != nil {
		return r.handlePostgresError("load node", err)
	}
	for k, v := range c.Properties {
		if v == nil {
			delete(n.Properties, k)
			continue
		}
		n.Properties[k] = v
	}
	raw, err := rb.EncodeProperties(n.Properties)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE nodes SET properties = $2, updated_at = $3 WHERE path = $1`, c.Path, raw, c.At)
	if err != nil {
		return r.handlePostgresError("update node", err)
	}
	return nil
}

func (r *Repository) delete(ctx context.Context, tx pgx.Tx, c rb.Change) error {
	if c.Path == rb.RootPath {
		return fmt.Errorf("%w: the root cannot be deleted", rb.ErrInvalidArgument)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM nodes WHERE path = $1 OR starts_with(path, $2)`,
		c.Path, c.Path+"/")
	if err != nil {
		return r.handlePostgresError("delete node", err)
	}
	if tag.RowsAffected() == 0 {
		return rb.ErrNotFound
	}
	return nil
}

