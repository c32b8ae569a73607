package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// writtenAtField holds the server write time used for write-ordered queries.
// It is added on every write and stripped on every read.
const writtenAtField = "_written_at"

// FirestoreBackend stores documents in Cloud Firestore.
// A Path maps to Collection(Root).Doc(Namespace).Collection(Collection).
type FirestoreBackend struct {
	client *firestore.Client
}

// OpenFirestore creates a Firebase app for projectID authenticated with the given
// service account JSON and returns a backend on its Firestore client.
func OpenFirestore(ctx context.Context, projectID string, credentialsJSON []byte) (*FirestoreBackend, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentialsJSON(credentialsJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return NewFirestoreBackend(client), nil
}

// NewFirestoreBackend wraps an existing client; Close closes it.
func NewFirestoreBackend(client *firestore.Client) *FirestoreBackend {
	return &FirestoreBackend{client: client}
}

func (b *FirestoreBackend) collection(p Path) *firestore.CollectionRef {
	return b.client.Collection(p.Root).Doc(p.Namespace).Collection(p.Collection)
}

func withWriteTime(doc Document) map[string]any {
	data := doc.Native()
	data[writtenAtField] = firestore.ServerTimestamp
	return data
}

func fromFirestore(snap *firestore.DocumentSnapshot) (Snapshot, error) {
	data := snap.Data()
	delete(data, writtenAtField)

	doc, err := FromNative(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("document %s: %w", snap.Ref.Path, err)
	}
	return Snapshot{
		ID:        snap.Ref.ID,
		Data:      doc,
		CreatedAt: snap.CreateTime,
		UpdatedAt: snap.UpdateTime,
	}, nil
}

// Create writes a new document, failing if the id exists
func (b *FirestoreBackend) Create(ctx context.Context, coll Path, id string, doc Document) error {
	_, err := b.collection(coll).Doc(id).Create(ctx, withWriteTime(doc))
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%s/%s: %w", coll, id, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s/%s: %w", coll, id, err)
	}
	return nil
}

// Set overwrites the whole document (no merge)
func (b *FirestoreBackend) Set(ctx context.Context, coll Path, id string, doc Document) error {
	if _, err := b.collection(coll).Doc(id).Set(ctx, withWriteTime(doc)); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", coll, id, err)
	}
	return nil
}

// Get reads one document
func (b *FirestoreBackend) Get(ctx context.Context, coll Path, id string) (Document, bool, error) {
	snap, err := b.collection(coll).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s: %w", coll, id, err)
	}

	s, err := fromFirestore(snap)
	if err != nil {
		return nil, false, err
	}
	return s.Data, true, nil
}

// Delete removes a document
func (b *FirestoreBackend) Delete(ctx context.Context, coll Path, id string) error {
	if _, err := b.collection(coll).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", coll, id, err)
	}
	return nil
}

// Query runs a server-side query. Filtering on one field while ordering by another
// needs a composite index in Firestore.
func (b *FirestoreBackend) Query(ctx context.Context, coll Path, q Query) Iterator {
	if err := q.Validate(); err != nil {
		return errIterator(err)
	}

	fq := b.collection(coll).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), f.Value.Native())
	}

	dir := firestore.Asc
	if q.Descending {
		dir = firestore.Desc
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = writtenAtField
	}
	fq = fq.OrderBy(orderBy, dir)

	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}

	return &firestoreIterator{it: fq.Documents(ctx)}
}

type firestoreIterator struct {
	it   *firestore.DocumentIterator
	done bool
}

func (f *firestoreIterator) Next() (Snapshot, error) {
	if f.done {
		return Snapshot{}, iterator.Done
	}
	snap, err := f.it.Next()
	if errors.Is(err, iterator.Done) {
		f.Stop()
		return Snapshot{}, iterator.Done
	}
	if err != nil {
		f.Stop()
		return Snapshot{}, fmt.Errorf("failed to read query results: %w", err)
	}
	return fromFirestore(snap)
}

func (f *firestoreIterator) Stop() {
	if f.done {
		return
	}
	f.done = true
	f.it.Stop()
}

// Ping lists at most one root collection to confirm the credentials and connection work
func (b *FirestoreBackend) Ping(ctx context.Context) error {
	it := b.client.Collections(ctx)
	_, err := it.Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore ping failed: %w", err)
	}
	return nil
}

// Close closes the Firestore client
func (b *FirestoreBackend) Close() error {
	return b.client.Close()
}
