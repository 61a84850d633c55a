package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Credential file parameters. The argon2id cost is tuned for one unlock per
// process start.
const (
	saltLen      = 16
	keyLen       = 32
	argonTime    = 1
	argonMem     = 64 * 1024
	argonThreads = 4
)

// randomBytes returns n bytes from the system CSPRNG.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// CredentialStore keeps session tokens in one encrypted file. The file is
// salt followed by nonce and AES-256-GCM ciphertext of a JSON map; the salt
// is bound to the ciphertext as additional data.
type CredentialStore struct {
	path string
	salt []byte
	aead cipher.AEAD

	mu sync.Mutex
}

// unlock derives the file key from secret and the store's salt.
func (c *CredentialStore) unlock(secret []byte) error {
	key := argon2.IDKey(secret, c.salt, argonTime, argonMem, argonThreads, keyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	c.aead, err = cipher.NewGCM(block)
	return err
}

// seal encrypts the token map body under a fresh nonce.
func (c *CredentialStore) seal(plain []byte) ([]byte, error) {
	nonce, err := randomBytes(c.aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plain, c.salt), nil
}

// open reverses seal. A wrong secret surfaces as an authentication error.
func (c *CredentialStore) open(sealed []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("ciphertext too short")
	}
	return c.aead.Open(nil, sealed[:n], sealed[n:], c.salt)
}

// OpenCredentials opens or prepares the credential file. A wrong secret
// for an existing file is an error.
func OpenCredentials(path string, secret []byte) (*CredentialStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("credential secret is empty")
	}
	c := &CredentialStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if c.salt, err = randomBytes(saltLen); err != nil {
			return nil, err
		}
		if err := c.unlock(secret); err != nil {
			return nil, err
		}
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	if len(data) < saltLen {
		return nil, errors.New("credential file is corrupt")
	}
	c.salt = append([]byte(nil), data[:saltLen]...)
	if err := c.unlock(secret); err != nil {
		return nil, err
	}
	if _, err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadOrCreateSecret reads a random secret from path, creating it on first
// use. It backs the credential store when no secret is configured.
func LoadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil && len(secret) > 0 {
		return secret, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	if secret, err = randomBytes(keyLen); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("write secret: %w", err)
	}
	return secret, nil
}

func (c *CredentialStore) load() (map[string]string, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if len(data) < saltLen {
		return nil, errors.New("credential file is corrupt")
	}
	plain, err := c.open(data[saltLen:])
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	out := map[string]string{}
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return out, nil
}

func (c *CredentialStore) save(tokens map[string]string) error {
	plain, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	sealed, err := c.seal(plain)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, append(append([]byte(nil), c.salt...), sealed...), 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Get returns "" when no token is stored under key.
func (c *CredentialStore) Get(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens, err := c.load()
	if err != nil {
		return "", err
	}
	return tokens[key], nil
}

func (c *CredentialStore) Put(key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens, err := c.load()
	if err != nil {
		return err
	}
	tokens[key] = token
	return c.save(tokens)
}

func (c *CredentialStore) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens, err := c.load()
	if err != nil {
		return err
	}
	if _, ok := tokens[key]; !ok {
		return nil
	}
	delete(tokens, key)
	return c.save(tokens)
}
