// Package credstore persists auth credentials between runs.
package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/goliatone/go-authstate/auth"
	"github.com/goliatone/go-authstate/config"
	"github.com/goliatone/go-authstate/machine"
	apperrors "github.com/goliatone/go-errors"
)

// formatVersion is bumped whenever the persisted layout changes.
const formatVersion = 1

type envelope struct {
	Version     int                     `json:"version"`
	Credentials auth.CognitoCredentials `json:"credentials"`
}

func encode(creds auth.CognitoCredentials) ([]byte, error) {
	return json.Marshal(envelope{Version: formatVersion, Credentials: creds})
}

func decode(data []byte) (*auth.CognitoCredentials, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, corrupt("credentials could not be decoded", err)
	}
	if env.Version != formatVersion {
		return nil, corrupt(fmt.Sprintf("unsupported credentials version %d", env.Version), nil)
	}
	return &env.Credentials, nil
}

func corrupt(msg string, cause error) *apperrors.Error {
	return machine.CloneError(auth.ErrCredentialStore, msg, cause, map[string]any{"reason": "corrupt"})
}

func failure(op string, cause error) *apperrors.Error {
	return machine.CloneError(auth.ErrCredentialStore, "credential store "+op+" failed", cause, map[string]any{"operation": op})
}

// MemoryStore keeps credentials sealed in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	sealed *memguard.Enclave
}

var _ auth.CredentialStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (*auth.CognitoCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed == nil {
		return nil, nil
	}
	buf, err := s.sealed.Open()
	if err != nil {
		return nil, failure("load", err)
	}
	defer buf.Destroy()
	return decode(buf.Bytes())
}

func (s *MemoryStore) Save(_ context.Context, creds auth.CognitoCredentials) error {
	data, err := encode(creds)
	if err != nil {
		return failure("save", err)
	}
	s.mu.Lock()
	s.sealed = memguard.NewEnclave(data)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.sealed = nil
	s.mu.Unlock()
	return nil
}

// Closer is implemented by stores holding resources.
type Closer interface {
	Close() error
}

// Open builds the store selected by cfg.
func Open(cfg config.Config) (auth.CredentialStore, error) {
	switch cfg.CredentialStore.Driver {
	case "", config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreBolt:
		store, err := OpenBolt(cfg.CredentialStore.Path, BoltOptions{
			Bucket: cfg.CredentialStore.Bucket,
			Key:    cfg.UserPool.AppClientID,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, machine.CloneError(auth.ErrConfiguration,
		fmt.Sprintf("unknown credential store driver %q", cfg.CredentialStore.Driver), nil,
		map[string]any{"driver": cfg.CredentialStore.Driver})
}

// IsCorrupt reports whether err means the stored data was unreadable.
func IsCorrupt(err error) bool {
	ge := asError(err)
	return ge != nil && ge.Metadata["reason"] == "corrupt"
}
