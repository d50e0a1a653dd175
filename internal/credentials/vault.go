// Package credentials resolves exchange API credentials per (user, exchange).
// The production source is an encrypted file vault; a static in-memory source
// covers tests and single-operator deployments that keep keys in config.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/fundingarb/basisbot/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// vaultEntry is one encrypted credential set. Each entry carries its own
// nonce; the AES key is derived once from the vault password and salt.
type vaultEntry struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// vaultFile is the on-disk format.
type vaultFile struct {
	Version int                   `json:"version"`
	Salt    string                `json:"salt"`
	Entries map[string]vaultEntry `json:"entries"`
}

// Vault is an encrypted credential store keyed by "userID/exchange",
// implementing domain.CredentialSource. Entries are decrypted on demand and
// never cached in plaintext.
type Vault struct {
	path string

	mu      sync.RWMutex
	key     []byte
	salt    []byte
	entries map[string]vaultEntry
}

var _ domain.CredentialSource = (*Vault)(nil)

// OpenVault loads the vault at path, deriving the AES-256 key from password
// with PBKDF2-HMAC-SHA256. A missing file yields an empty vault that Save
// will create.
func OpenVault(path, password string) (*Vault, error) {
	if password == "" {
		return nil, errors.New("credentials: vault password must not be empty")
	}

	v := &Vault{path: path, entries: make(map[string]vaultEntry)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		v.salt = make([]byte, saltLen)
		if _, err := rand.Read(v.salt); err != nil {
			return nil, fmt.Errorf("credentials: generating salt: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("credentials: reading vault: %w", err)
	default:
		var stored vaultFile
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, fmt.Errorf("credentials: parsing vault: %w", err)
		}
		if stored.Version != currentVersion {
			return nil, fmt.Errorf("credentials: unsupported vault version %d", stored.Version)
		}
		v.salt, err = base64.StdEncoding.DecodeString(stored.Salt)
		if err != nil {
			return nil, fmt.Errorf("credentials: decoding salt: %w", err)
		}
		if stored.Entries != nil {
			v.entries = stored.Entries
		}
	}

	v.key = pbkdf2.Key([]byte(password), v.salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	return v, nil
}

func entryKey(userID, exchange string) string {
	return userID + "/" + exchange
}

// Get implements domain.CredentialSource.
func (v *Vault) Get(ctx context.Context, userID, exchange string) (domain.Credential, error) {
	v.mu.RLock()
	entry, ok := v.entries[entryKey(userID, exchange)]
	v.mu.RUnlock()
	if !ok {
		return domain.Credential{}, fmt.Errorf("%s on %s: %w", userID, exchange, domain.ErrAPIKeyNotFound)
	}

	plaintext, err := v.open(entry)
	if err != nil {
		return domain.Credential{}, err
	}

	var cred domain.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return domain.Credential{}, fmt.Errorf("credentials: parsing entry: %w", err)
	}
	return cred, nil
}

// Put encrypts and stores a credential set. Call Save to persist.
func (v *Vault) Put(userID, exchange string, cred domain.Credential) error {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("credentials: encoding entry: %w", err)
	}
	entry, err := v.seal(plaintext)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.entries[entryKey(userID, exchange)] = entry
	v.mu.Unlock()
	return nil
}

// Delete removes a credential set. Call Save to persist.
func (v *Vault) Delete(userID, exchange string) {
	v.mu.Lock()
	delete(v.entries, entryKey(userID, exchange))
	v.mu.Unlock()
}

// Save writes the vault atomically via a temp file rename.
func (v *Vault) Save() error {
	v.mu.RLock()
	out := vaultFile{
		Version: currentVersion,
		Salt:    base64.StdEncoding.EncodeToString(v.salt),
		Entries: v.entries,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	v.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("credentials: encoding vault: %w", err)
	}

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credentials: writing vault: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return fmt.Errorf("credentials: replacing vault: %w", err)
	}
	return nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("credentials: creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (v *Vault) seal(plaintext []byte) (vaultEntry, error) {
	gcm, err := v.gcm()
	if err != nil {
		return vaultEntry{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return vaultEntry{}, fmt.Errorf("credentials: generating nonce: %w", err)
	}
	return vaultEntry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}, nil
}

func (v *Vault) open(entry vaultEntry) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil {
		return nil, fmt.Errorf("credentials: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("credentials: decoding ciphertext: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("credentials: decryption failed (wrong password?): %w", err)
	}
	return plaintext, nil
}

// StaticSource serves credentials from memory, keyed like the vault. Used by
// tests and config-file deployments.
type StaticSource struct {
	creds map[string]domain.Credential
}

var _ domain.CredentialSource = (*StaticSource)(nil)

func NewStaticSource() *StaticSource {
	return &StaticSource{creds: make(map[string]domain.Credential)}
}

// Set registers a credential set for (userID, exchange).
func (s *StaticSource) Set(userID, exchange string, cred domain.Credential) {
	s.creds[entryKey(userID, exchange)] = cred
}

func (s *StaticSource) Get(ctx context.Context, userID, exchange string) (domain.Credential, error) {
	cred, ok := s.creds[entryKey(userID, exchange)]
	if !ok {
		return domain.Credential{}, fmt.Errorf("%s on %s: %w", userID, exchange, domain.ErrAPIKeyNotFound)
	}
	return cred, nil
}
