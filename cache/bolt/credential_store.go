package bolt

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

var (
	credentialsBucket = []byte("provider_credentials")
	metaBucket        = []byte("provider_credentials_meta")
	activeKey         = []byte("active")
)

// CredentialStore persists provider credentials in a local BBolt file. It suits
// single-node deployments that want the credential to survive restarts without
// a shared cache. Superseded credentials are kept, flagged inactive.
type CredentialStore struct {
	db *bbolt.DB
}

var _ domain.CredentialStore = (*CredentialStore)(nil)

// Open opens (or creates) the BBolt database at dbPath.
func Open(dbPath string) (*CredentialStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	log.Info().Str("path", dbPath).Msg("Opening BBolt credential store")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(credentialsBucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", credentialsBucket, err)
		}
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", metaBucket, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &CredentialStore{db: db}, nil
}

// Close closes the underlying database.
func (s *CredentialStore) Close() error {
	return s.db.Close()
}

// StoreCredential flags the current credential inactive and inserts the new
// one as active, in a single transaction.
func (s *CredentialStore) StoreCredential(_ context.Context, token string) error {
	if token == "" {
		return domain.ErrEmptyCredentialToken
	}
	cred := &domain.Credential{
		ID:        uuid.NewString(),
		Token:     token,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	encoded, err := encode(cred)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := deactivateCurrent(tx); err != nil {
			return err
		}
		if err := tx.Bucket(credentialsBucket).Put([]byte(cred.ID), encoded); err != nil {
			return fmt.Errorf("failed to put credential %s: %w", cred.ID, err)
		}
		return tx.Bucket(metaBucket).Put(activeKey, []byte(cred.ID))
	})
}

// GetActiveCredential loads the credential the active pointer refers to.
func (s *CredentialStore) GetActiveCredential(_ context.Context) (*domain.Credential, error) {
	var cred *domain.Credential
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(metaBucket).Get(activeKey)
		if id == nil {
			return domain.ErrCredentialNotFound
		}
		raw := tx.Bucket(credentialsBucket).Get(id)
		if raw == nil {
			return domain.ErrCredentialNotFound
		}
		decoded, err := decode(raw)
		if err != nil {
			return err
		}
		if !decoded.IsActive {
			return domain.ErrCredentialNotFound
		}
		cred = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// InvalidateActiveCredential flags the active credential inactive.
func (s *CredentialStore) InvalidateActiveCredential(_ context.Context) error {
	return s.db.Update(deactivateCurrent)
}

// Count returns the number of stored credentials, active or not.
func (s *CredentialStore) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(credentialsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func deactivateCurrent(tx *bbolt.Tx) error {
	meta := tx.Bucket(metaBucket)
	id := meta.Get(activeKey)
	if id == nil {
		return nil
	}
	creds := tx.Bucket(credentialsBucket)
	if raw := creds.Get(id); raw != nil {
		cred, err := decode(raw)
		if err != nil {
			return err
		}
		cred.IsActive = false
		encoded, err := encode(cred)
		if err != nil {
			return err
		}
		// id is only valid for the life of the transaction and Put may reuse its page.
		key := append([]byte(nil), id...)
		if err := creds.Put(key, encoded); err != nil {
			return fmt.Errorf("failed to deactivate credential %s: %w", key, err)
		}
	}
	return meta.Delete(activeKey)
}

func encode(cred *domain.Credential) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cred); err != nil {
		return nil, fmt.Errorf("failed to encode credential: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(raw []byte) (*domain.Credential, error) {
	var cred domain.Credential
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&cred); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	return &cred, nil
}
