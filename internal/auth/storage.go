package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// ErrNoCredentials is returned by a backend that holds nothing for a profile
var ErrNoCredentials = errors.New("no stored credentials")

// StorageBackend defines the interface for credential storage
type StorageBackend interface {
	Save(profile string, data []byte) error
	Load(profile string) ([]byte, error)
	Delete(profile string) error
	Name() string
}

// KeyringStorage uses the system keyring for credential storage
type KeyringStorage struct {
	serviceName string
}

// NewKeyringStorage creates a keyring storage backend
func NewKeyringStorage(serviceName string) *KeyringStorage {
	return &KeyringStorage{
		serviceName: serviceName,
	}
}

func (s *KeyringStorage) Save(profile string, data []byte) error {
	return keyring.Set(s.serviceName, profile, string(data))
}

func (s *KeyringStorage) Load(profile string) ([]byte, error) {
	data, err := keyring.Get(s.serviceName, profile)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (s *KeyringStorage) Delete(profile string) error {
	err := keyring.Delete(s.serviceName, profile)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNoCredentials
	}
	return err
}

func (s *KeyringStorage) Name() string {
	return "system-keyring"
}

// FileStorage keeps AES-GCM encrypted credential files under baseDir. It is
// the fallback on hosts without a usable keyring.
type FileStorage struct {
	baseDir string
	key     []byte
}

// NewFileStorage creates an encrypted file storage backend
func NewFileStorage(baseDir string) (*FileStorage, error) {
	key, err := getOrCreateEncryptionKey(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}

	return &FileStorage{
		baseDir: baseDir,
		key:     key,
	}, nil
}

func (s *FileStorage) Save(profile string, data []byte) error {
	encrypted, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	credFile := s.credentialFile(profile)
	if err := os.MkdirAll(filepath.Dir(credFile), 0700); err != nil {
		return err
	}

	return os.WriteFile(credFile, encrypted, 0600)
}

func (s *FileStorage) Load(profile string) ([]byte, error) {
	encrypted, err := os.ReadFile(s.credentialFile(profile))
	if os.IsNotExist(err) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}

	return s.decrypt(encrypted)
}

func (s *FileStorage) Delete(profile string) error {
	err := os.Remove(s.credentialFile(profile))
	if os.IsNotExist(err) {
		return ErrNoCredentials
	}
	return err
}

func (s *FileStorage) Name() string {
	return "encrypted-file"
}

func (s *FileStorage) credentialFile(profile string) string {
	return filepath.Join(s.baseDir, "credentials", profile+".enc")
}

func (s *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(s.key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("invalid ciphertext")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// getOrCreateEncryptionKey generates or loads the encryption key
func getOrCreateEncryptionKey(baseDir string) ([]byte, error) {
	keyFile := filepath.Join(baseDir, ".keyfile")

	if data, err := os.ReadFile(keyFile); err == nil {
		key, err := base64.StdEncoding.DecodeString(string(data))
		if err == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(keyFile, []byte(encoded), 0600); err != nil {
		return nil, err
	}

	return key, nil
}

// ListProfiles lists all profiles with stored credentials
func (m *Manager) ListProfiles() ([]string, error) {
	profiles := []string{}

	if m.useKeyring {
		// The keyring cannot be enumerated, so profiles are tracked on disk
		data, err := os.ReadFile(m.profilesFile())
		if err != nil {
			if os.IsNotExist(err) {
				return profiles, nil
			}
			return nil, err
		}
		if err := json.Unmarshal(data, &profiles); err != nil {
			return nil, err
		}
		return profiles, nil
	}

	entries, err := os.ReadDir(filepath.Join(m.configDir, "credentials"))
	if err != nil {
		if os.IsNotExist(err) {
			return profiles, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && filepath.Ext(name) == ".enc" {
			profiles = append(profiles, name[:len(name)-len(".enc")])
		}
	}
	return profiles, nil
}

func (m *Manager) profilesFile() string {
	return filepath.Join(m.configDir, "profiles.json")
}

// addProfileToList records a keyring-backed profile
func (m *Manager) addProfileToList(profile string) error {
	if !m.useKeyring {
		return nil
	}

	profiles, err := m.ListProfiles()
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if p == profile {
			return nil
		}
	}
	return m.writeProfiles(append(profiles, profile))
}

func (m *Manager) removeProfileFromList(profile string) error {
	if !m.useKeyring {
		return nil
	}

	profiles, err := m.ListProfiles()
	if err != nil {
		return err
	}
	updated := []string{}
	for _, p := range profiles {
		if p != profile {
			updated = append(updated, p)
		}
	}
	return m.writeProfiles(updated)
}

func (m *Manager) writeProfiles(profiles []string) error {
	data, err := json.Marshal(profiles)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(m.profilesFile(), data, 0600)
}
