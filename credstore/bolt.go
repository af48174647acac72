package credstore

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/goliatone/go-authstate/auth"
	apperrors "github.com/goliatone/go-errors"
	"go.etcd.io/bbolt"
)

const (
	defaultBucket = "credentials"
	defaultKey    = "default"
)

// BoltOptions selects where in the database credentials live. Key is
// usually the app client id so several clients can share one file.
type BoltOptions struct {
	Bucket  string
	Key     string
	Timeout time.Duration
}

// BoltStore persists credentials in a bbolt database.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
	key    []byte
}

var _ auth.CredentialStore = (*BoltStore)(nil)

// OpenBolt opens or creates the database at path.
func OpenBolt(path string, opts BoltOptions) (*BoltStore, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, failure("open", err)
	}
	return NewBoltStore(db, opts), nil
}

// NewBoltStore wraps an open database.
func NewBoltStore(db *bbolt.DB, opts BoltOptions) *BoltStore {
	bucket := opts.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	key := opts.Key
	if key == "" {
		key = defaultKey
	}
	return &BoltStore{db: db, bucket: []byte(bucket), key: []byte(key)}
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Load(ctx context.Context) (*auth.CognitoCredentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure("load", err)
	}
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(s.key); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, failure("load", err)
	}
	if data == nil {
		return nil, nil
	}
	return decode(data)
}

func (s *BoltStore) Save(ctx context.Context, creds auth.CognitoCredentials) error {
	if err := ctx.Err(); err != nil {
		return failure("save", err)
	}
	data, err := encode(creds)
	if err != nil {
		return failure("save", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put(s.key, data)
	})
	if err != nil {
		return failure("save", err)
	}
	return nil
}

func (s *BoltStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return failure("clear", err)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete(s.key)
	})
	if err != nil {
		return failure("clear", err)
	}
	return nil
}

func asError(err error) *apperrors.Error {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge
	}
	return nil
}
