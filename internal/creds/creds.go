// Package creds stores per-user secrets (GitHub tokens, remote URLs with
// embedded credentials) encrypted at rest. Plaintext never touches disk and
// never appears in errors or logs.
package creds

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/lockfile"
)

var lockWait = 5 * time.Second

// GitToken is the well-known credential name the pipeline reads for
// authenticating KB remotes.
const GitToken = "git_token"

// Store encrypts values with AES-256-GCM. The key is the SHA-256 digest of
// the operator-supplied passphrase, so any passphrase length works.
type Store struct {
	path string
	key  []byte
}

// NewStore opens a credential store at path. An empty passphrase yields a
// locked store: every operation fails until KNOWD_CRED_KEY is set.
func NewStore(path, passphrase string) *Store {
	s := &Store{path: path}
	if passphrase != "" {
		sum := sha256.Sum256([]byte(passphrase))
		s.key = sum[:]
	}
	return s
}

// Unlocked reports whether the store has an encryption key.
func (s *Store) Unlocked() bool { return len(s.key) == 32 }

// Set encrypts and persists one named credential for a user, replacing any
// previous value of the same name.
func (s *Store) Set(ctx context.Context, userID int64, name, value string) error {
	if err := s.check(name); err != nil {
		return err
	}
	if value == "" {
		return domain.Errf(domain.KindInputRejected, "credential value is empty")
	}
	sealed, err := s.seal([]byte(value))
	if err != nil {
		return domain.E(domain.KindInternal, "encrypt credential", err)
	}
	return s.update(ctx, func(doc credDoc) {
		key := userKey(userID)
		if doc[key] == nil {
			doc[key] = map[string]string{}
		}
		doc[key][name] = sealed
	})
}

// Get decrypts one named credential. A missing entry is reported
// distinctly from a decryption failure.
func (s *Store) Get(userID int64, name string) (string, error) {
	if err := s.check(name); err != nil {
		return "", err
	}
	doc, err := s.read()
	if err != nil {
		return "", err
	}
	sealed, ok := doc[userKey(userID)][name]
	if !ok {
		return "", domain.Errf(domain.KindInputRejected, "no credential named %q", name)
	}
	plain, err := s.open(sealed)
	if err != nil {
		// Wrong passphrase or corrupted record. Never include the payload.
		return "", domain.E(domain.KindInternal, "decrypt credential", err)
	}
	return string(plain), nil
}

// Delete removes one named credential. Deleting a missing entry is not an
// error.
func (s *Store) Delete(ctx context.Context, userID int64, name string) error {
	if err := s.check(name); err != nil {
		return err
	}
	return s.update(ctx, func(doc credDoc) {
		key := userKey(userID)
		delete(doc[key], name)
		if len(doc[key]) == 0 {
			delete(doc, key)
		}
	})
}

// List returns the credential names stored for a user, sorted. Values are
// never returned in bulk.
func (s *Store) List(userID int64) ([]string, error) {
	if !s.Unlocked() {
		return nil, lockedErr()
	}
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	var names []string
	for name := range doc[userKey(userID)] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) check(name string) error {
	if !s.Unlocked() {
		return lockedErr()
	}
	if name == "" {
		return domain.Errf(domain.KindInputRejected, "credential name is empty")
	}
	return nil
}

func lockedErr() error {
	return domain.Errf(domain.KindInternal, "credential store locked: KNOWD_CRED_KEY is not set")
}

// credDoc is the on-disk shape: user id -> name -> sealed value.
type credDoc map[string]map[string]string

func (s *Store) update(ctx context.Context, mutate func(credDoc)) error {
	ctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	lk, err := lockfile.Acquire(ctx, s.path+".lock")
	if err != nil {
		return domain.E(domain.KindInternal, "credential store busy", err)
	}
	defer lk.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	mutate(doc)
	return s.write(doc)
}

func (s *Store) read() (credDoc, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return credDoc{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	doc := credDoc{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return doc, nil
}

func (s *Store) write(doc credDoc) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// seal encrypts plaintext and encodes nonce||ciphertext as base64.
func (s *Store) seal(plain []byte) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := gcm.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Store) open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("malformed record")
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("malformed record")
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed")
	}
	return plain, nil
}

func userKey(userID int64) string { return strconv.FormatInt(userID, 10) }
