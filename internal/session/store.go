package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

// TokenKey is the fixed key the session token is stored under.
const TokenKey = "userToken"

var ErrNoToken = errors.New("no stored token")

// TokenStore persists the single session token.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu  sync.Mutex
	tok string
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok == "" {
		return "", ErrNoToken
	}
	return m.tok, nil
}

func (m *MemoryStore) Save(_ context.Context, token string) error {
	m.mu.Lock()
	m.tok = token
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.tok = ""
	m.mu.Unlock()
	return nil
}

// FileStore keeps the token in a file, sealed with secretbox when a
// passphrase is set.
type FileStore struct {
	path string
	key  *[32]byte
}

func NewFileStore(path, passphrase string) *FileStore {
	fsStore := &FileStore{path: path}
	if passphrase != "" {
		k := sha256.Sum256([]byte(passphrase))
		fsStore.key = &k
	}
	return fsStore
}

func (f *FileStore) Load(context.Context) (string, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if len(b) == 0 {
		return "", ErrNoToken
	}
	if f.key == nil {
		return string(b), nil
	}
	if len(b) < 24 {
		return "", fmt.Errorf("sealed token too short")
	}
	var nonce [24]byte
	copy(nonce[:], b[:24])
	out, ok := secretbox.Open(nil, b[24:], &nonce, f.key)
	if !ok {
		return "", fmt.Errorf("sealed token: wrong key or corrupted file")
	}
	return string(out), nil
}

func (f *FileStore) Save(_ context.Context, token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("token dir: %w", err)
	}
	data := []byte(token)
	if f.key != nil {
		var nonce [24]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return err
		}
		data = secretbox.Seal(nonce[:], data, &nonce, f.key)
	}
	// write then rename so a crash never leaves half a token
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Clear(context.Context) error {
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
