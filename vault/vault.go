// Package vault is the per-session encrypted store for tool credentials.
// Entries are sealed with AES-256-GCM and only ever decrypted on read.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

// KeySize is the required size of the sealing key.
const KeySize = 32

// ErrNotFound is returned when no credentials are stored for a tool.
var ErrNotFound = errors.New("credentials not found")

type entryKey struct {
	toolName string
	serverID string
}

// Vault stores encrypted credential blobs keyed by (toolName, serverID).
type Vault struct {
	mu      sync.RWMutex
	aead    cipher.AEAD
	entries map[entryKey][]byte
}

// NewKey returns a fresh random sealing key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate vault key")
	}
	return key, nil
}

// New returns a vault sealing entries with the given 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, errors.Newf("vault key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AEAD")
	}
	return &Vault{
		aead:    aead,
		entries: make(map[entryKey][]byte),
	}, nil
}

// Set encrypts and stores credentials for a tool.
func (v *Vault) Set(toolName, serverID string, creds map[string]string) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, "failed to marshal credentials")
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return errors.Wrap(err, "failed to generate nonce")
	}
	// nonce is prepended to the sealed blob
	blob := v.aead.Seal(nonce, nonce, plaintext, nil)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[entryKey{toolName: toolName, serverID: serverID}] = blob
	return nil
}

// Get decrypts and returns credentials for a tool, or ErrNotFound.
func (v *Vault) Get(toolName, serverID string) (map[string]string, error) {
	v.mu.RLock()
	blob, ok := v.entries[entryKey{toolName: toolName, serverID: serverID}]
	v.mu.RUnlock()
	if !ok {
		return nil, errors.WithStack(ErrNotFound)
	}

	ns := v.aead.NonceSize()
	if len(blob) < ns {
		return nil, errors.New("corrupt credential blob")
	}
	plaintext, err := v.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt credentials")
	}

	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal credentials")
	}
	return creds, nil
}

// Has reports whether credentials are stored for a tool without decrypting.
func (v *Vault) Has(toolName, serverID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.entries[entryKey{toolName: toolName, serverID: serverID}]
	return ok
}

// Delete removes credentials for a tool. Removing an absent entry is a no-op.
func (v *Vault) Delete(toolName, serverID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, entryKey{toolName: toolName, serverID: serverID})
}

// DeleteByServer removes every entry owned by the given server.
func (v *Vault) DeleteByServer(serverID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for k := range v.entries {
		if k.serverID == serverID {
			delete(v.entries, k)
		}
	}
}
