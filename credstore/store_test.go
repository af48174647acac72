package credstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func sampleCredentials() auth.CognitoCredentials {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	return auth.CognitoCredentials{
		User: &auth.SignedInData{
			UserID:   "sub-1",
			Username: "alice",
			Method:   auth.MethodSRP,
			Tokens: auth.UserPoolTokens{
				IDToken:      "id",
				AccessToken:  "access",
				RefreshToken: "refresh",
				ExpiresAt:    exp,
			},
		},
		IdentityID: "us-east-1:abc",
		AWS: &auth.AWSCredentials{
			AccessKeyID:     "AK",
			SecretAccessKey: "SK",
			SessionToken:    "ST",
			Expiration:      exp,
		},
	}
}

func exerciseStore(t *testing.T, store auth.CredentialStore) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	want := sampleCredentials()
	require.NoError(t, store.Save(ctx, want))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	require.NoError(t, store.Clear(ctx))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Clear(ctx))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestBoltStoreRoundTrip(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "auth.db"), BoltOptions{Key: "client-a"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseStore(t, store)
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.db")
	store, err := OpenBolt(path, BoltOptions{Key: "client-a"})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleCredentials()))
	require.NoError(t, store.Close())

	reopened, err := OpenBolt(path, BoltOptions{Key: "client-a"})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.User.Username)

	other := NewBoltStore(reopened.db, BoltOptions{Key: "client-b"})
	none, err := other.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestBoltStoreReportsCorruptData(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "auth.db"), BoltOptions{})
	require.NoError(t, err)
	defer store.Close()

	err = store.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(defaultBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(defaultKey), []byte("{not json"))
	})
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
	assert.Equal(t, auth.ErrCodeCredentialStore, auth.ErrorCode(err))

	require.NoError(t, store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(defaultBucket)).Put([]byte(defaultKey), []byte(`{"version":99}`))
	}))
	_, err = store.Load(context.Background())
	assert.True(t, IsCorrupt(err))
}

func TestOpenSelectsDriver(t *testing.T) {
	cfg := config.Defaults()
	store, err := Open(cfg)
	require.NoError(t, err)
	_, isMemory := store.(*MemoryStore)
	assert.True(t, isMemory)

	cfg.CredentialStore.Driver = config.StoreBolt
	cfg.CredentialStore.Path = filepath.Join(t.TempDir(), "auth.db")
	store, err = Open(cfg)
	require.NoError(t, err)
	bolt, isBolt := store.(*BoltStore)
	require.True(t, isBolt)
	defer bolt.Close()

	cfg.CredentialStore.Driver = "redis"
	_, err = Open(cfg)
	require.Error(t, err)
	assert.Equal(t, auth.ErrCodeConfiguration, auth.ErrorCode(err))
}

func TestCanceledContextFailsBoltOperations(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "auth.db"), BoltOptions{})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, store.Save(ctx, sampleCredentials()))
	_, err = store.Load(ctx)
	assert.Error(t, err)
}
