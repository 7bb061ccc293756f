// Package credentials resolves a workspace+provider pair to a decrypted API
// key. Keys are sealed with AES-GCM under a master key supplied via
// CREWFORM_MASTER_KEY; the plaintext never touches the store.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// ErrNoCredential means the workspace has no key for the provider. This is a
// configuration error: fatal to the unit of work and not retried.
var ErrNoCredential = errors.New("no credential configured")

// Resolver decrypts stored credentials on demand.
type Resolver struct {
	Store store.Store
	key   []byte
}

// NewResolver derives the AES key from the master secret. An empty secret is
// rejected so encrypted rows can never be written against a default key.
func NewResolver(st store.Store, masterSecret string) (*Resolver, error) {
	if masterSecret == "" {
		return nil, errors.New("master key required (set CREWFORM_MASTER_KEY)")
	}
	sum := sha256.Sum256([]byte(masterSecret))
	return &Resolver{Store: st, key: sum[:]}, nil
}

// APIKey returns the decrypted API key for workspace+provider.
func (r *Resolver) APIKey(ctx context.Context, workspaceID, provider string) (string, error) {
	cred, err := r.Store.GetCredential(ctx, workspaceID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: provider %q in workspace %s", ErrNoCredential, provider, workspaceID)
	}
	if err != nil {
		return "", err
	}
	plain, err := r.open(cred.KeyCiphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt credential for %q: %w", provider, err)
	}
	return string(plain), nil
}

// Put seals apiKey and upserts the credential row.
func (r *Resolver) Put(ctx context.Context, workspaceID, provider, apiKey string) error {
	sealed, err := r.seal([]byte(apiKey))
	if err != nil {
		return err
	}
	return r.Store.PutCredential(ctx, models.Credential{
		WorkspaceID:   workspaceID,
		Provider:      provider,
		KeyCiphertext: sealed,
	})
}

func (r *Resolver) seal(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (r *Resolver) open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
