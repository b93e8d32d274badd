package infra

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

const keySize = 32 // 256-bit SQLCipher key

// KeyEnvVar supplies the database key directly (base64), bypassing the key file.
const KeyEnvVar = "KIOSKD_DB_KEY"

// FileKeyProvider implements domain.KeyProvider using a file in the data dir.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given key file path.
func NewFileKeyProvider(keyPath string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: keyPath}
}

// GetKey reads the encryption key from the key file.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(string(encoded))
}

// StoreKey writes the key with 0600 permissions. It never overwrites an
// existing key: the daemon and the CLI may race to create it.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	// Write a temp file, then hard-link it into place so readers never see
	// a partial key and an existing key makes the link fail with EEXIST.
	tmp, err := os.CreateTemp(filepath.Dir(p.keyPath), ".key-*")
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set key file permissions: %w", err)
	}
	if _, err := tmp.WriteString(base64.StdEncoding.EncodeToString(key)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Link(tmp.Name(), p.keyPath); err != nil {
		return fmt.Errorf("failed to install key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// EnvKeyProvider reads a fixed key from the environment. Read-only.
type EnvKeyProvider struct {
	value string
}

// NewEnvKeyProvider returns a provider for KeyEnvVar, or nil if it is unset.
func NewEnvKeyProvider() *EnvKeyProvider {
	v := os.Getenv(KeyEnvVar)
	if v == "" {
		return nil
	}
	return &EnvKeyProvider{value: v}
}

func (p *EnvKeyProvider) GetKey() ([]byte, error) { return decodeKey(p.value) }

func (p *EnvKeyProvider) StoreKey(key []byte) error {
	return fmt.Errorf("%s is read-only", KeyEnvVar)
}

func (p *EnvKeyProvider) KeyExists() bool { return true }

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// GenerateKey creates a new random 256-bit encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey generates and stores a key if one doesn't exist.
// Returns the key (existing or newly generated). If another process wins
// the creation race, its key is returned.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		if errors.Is(err, os.ErrExist) {
			return provider.GetKey()
		}
		return nil, err
	}
	return key, nil
}

// Ensure both providers implement domain.KeyProvider.
var _ domain.KeyProvider = (*FileKeyProvider)(nil)
var _ domain.KeyProvider = (*EnvKeyProvider)(nil)
