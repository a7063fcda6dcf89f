package cache

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/buenedata/plugin-update-server/pkg/release"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fsTransient struct {
	Key       string
	Value     *release.Descriptor
	ExpiresAt time.Time
}

// FirestoreStore shares transients between instances of the service.
type FirestoreStore struct {
	db         *firestore.Client
	collection string
	now        func() time.Time
}

func NewFirestoreStore(db *firestore.Client, stage string) *FirestoreStore {
	return &FirestoreStore{
		db:         db,
		collection: stage + "-transients",
		now:        time.Now,
	}
}

func (f *FirestoreStore) getDocRef(key string) *firestore.DocumentRef {
	// document ids must not contain slashes
	return f.db.Collection(f.collection).Doc(strings.ReplaceAll(key, "/", ":"))
}

func (f *FirestoreStore) Get(ctx context.Context, key string) (*release.Descriptor, bool, error) {
	res, err := f.getDocRef(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entry fsTransient
	if dErr := res.DataTo(&entry); dErr != nil {
		return nil, false, dErr
	}
	if entry.Value == nil || !f.now().Before(entry.ExpiresAt) {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (f *FirestoreStore) Set(ctx context.Context, key string, d *release.Descriptor, ttl time.Duration) error {
	_, err := f.getDocRef(key).Set(ctx, &fsTransient{
		Key:       key,
		Value:     d,
		ExpiresAt: f.now().Add(ttl),
	})
	return err
}

func (f *FirestoreStore) Delete(ctx context.Context, key string) error {
	_, err := f.getDocRef(key).Delete(ctx)
	return err
}
