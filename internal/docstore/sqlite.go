package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/api/iterator"

	"github.com/amats/amats/internal/database"
)

// SQLiteSchema holds every collection in a single documents table.
// seq records write order; Set keeps seq and created_at of the replaced document.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection_seq ON documents(collection, seq);
`

// SQLiteBackend stores documents in a local SQLite database, msgpack-encoded.
// It serves development, tests and single-host deployments.
type SQLiteBackend struct {
	conn *sql.DB
	db   *database.DB // set when the backend owns the database
}

// NewSQLiteBackend uses an existing connection and applies the schema.
// The caller keeps ownership of conn.
func NewSQLiteBackend(conn *sql.DB) (*SQLiteBackend, error) {
	if _, err := conn.Exec(SQLiteSchema); err != nil {
		return nil, fmt.Errorf("failed to apply documents schema: %w", err)
	}
	return &SQLiteBackend{conn: conn}, nil
}

// OpenSQLite opens (or creates) the database file at path with the ledger profile.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileLedger,
		Name:    "state",
	})
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(SQLiteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteBackend{conn: db.Conn(), db: db}, nil
}

// Database returns the owned database, or nil when the connection was supplied by the caller.
func (b *SQLiteBackend) Database() *database.DB {
	return b.db
}

func encodeDocument(doc Document) ([]byte, error) {
	data, err := msgpack.Marshal(doc.Native())
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte) (Document, error) {
	var raw map[string]any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return FromNative(raw)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Create inserts a new document
func (b *SQLiteBackend) Create(ctx context.Context, coll Path, id string, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	now := time.Now().UnixNano()
	_, err = b.conn.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		coll.String(), id, data, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s/%s: %w", coll, id, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert %s/%s: %w", coll, id, err)
	}
	return nil
}

// Set replaces the document
func (b *SQLiteBackend) Set(ctx context.Context, coll Path, id string, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	now := time.Now().UnixNano()
	_, err = b.conn.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, coll.String(), id, data, now, now)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", coll, id, err)
	}
	return nil
}

// Get reads one document
func (b *SQLiteBackend) Get(ctx context.Context, coll Path, id string) (Document, bool, error) {
	var data []byte
	err := b.conn.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`,
		coll.String(), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s: %w", coll, id, err)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, false, fmt.Errorf("%s/%s: %w", coll, id, err)
	}
	return doc, true, nil
}

// Delete removes a document; deleting a missing document is not an error
func (b *SQLiteBackend) Delete(ctx context.Context, coll Path, id string) error {
	_, err := b.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		coll.String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", coll, id, err)
	}
	return nil
}

// Query scans the collection in write order, filtering in Go.
// Write-ordered queries stream rows; field-ordered queries are materialized and sorted.
func (b *SQLiteBackend) Query(ctx context.Context, coll Path, q Query) Iterator {
	if err := q.Validate(); err != nil {
		return errIterator(err)
	}

	order := "ASC"
	if q.OrderBy == "" && q.Descending {
		order = "DESC"
	}

	rows, err := b.conn.QueryContext(ctx,
		`SELECT id, data, created_at, updated_at FROM documents WHERE collection = ? ORDER BY seq `+order,
		coll.String(),
	)
	if err != nil {
		return errIterator(fmt.Errorf("failed to query %s: %w", coll, err))
	}

	it := &rowsIterator{rows: rows, query: q, coll: coll}
	if q.OrderBy == "" {
		return it
	}

	// Sorting needs every match before the first result can be returned
	var all []Snapshot
	for {
		s, err := it.next(false)
		if err == iterator.Done {
			break
		}
		if err != nil {
			it.Stop()
			return errIterator(err)
		}
		all = append(all, s)
	}

	sorted := sortSnapshots(all, q.OrderBy, q.Descending)
	if q.Limit > 0 && len(sorted) > q.Limit {
		sorted = sorted[:q.Limit]
	}
	return newSliceIterator(sorted)
}

// rowsIterator streams rows from an open result set
type rowsIterator struct {
	rows     *sql.Rows
	query    Query
	coll     Path
	returned int
	done     bool
}

func (it *rowsIterator) Next() (Snapshot, error) {
	return it.next(true)
}

func (it *rowsIterator) next(applyLimit bool) (Snapshot, error) {
	if it.done {
		return Snapshot{}, iterator.Done
	}
	if applyLimit && it.query.Limit > 0 && it.returned >= it.query.Limit {
		it.Stop()
		return Snapshot{}, iterator.Done
	}

	for it.rows.Next() {
		var (
			id                   string
			data                 []byte
			createdAt, updatedAt int64
		)
		if err := it.rows.Scan(&id, &data, &createdAt, &updatedAt); err != nil {
			it.Stop()
			return Snapshot{}, fmt.Errorf("failed to scan %s: %w", it.coll, err)
		}

		doc, err := decodeDocument(data)
		if err != nil {
			it.Stop()
			return Snapshot{}, fmt.Errorf("%s/%s: %w", it.coll, id, err)
		}
		if !it.query.matches(doc) {
			continue
		}

		it.returned++
		return Snapshot{
			ID:        id,
			Data:      doc,
			CreatedAt: time.Unix(0, createdAt).UTC(),
			UpdatedAt: time.Unix(0, updatedAt).UTC(),
		}, nil
	}

	err := it.rows.Err()
	it.Stop()
	if err != nil {
		return Snapshot{}, fmt.Errorf("error iterating %s: %w", it.coll, err)
	}
	return Snapshot{}, iterator.Done
}

func (it *rowsIterator) Stop() {
	if it.done {
		return
	}
	it.done = true
	_ = it.rows.Close()
}

// Ping checks the connection
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.conn.PingContext(ctx)
}

// Close closes the database if the backend owns it
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
