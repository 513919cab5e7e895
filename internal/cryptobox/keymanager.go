package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/quillwriter/syncengine/internal/syncerr"
)

const (
	dekSize  = 32
	saltSize = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// WrappedDEK is the at-rest representation of a project's Data Encryption
// Key (§3: "Per-project E2EE state"): opaque ciphertext plus the salt used
// to derive the wrapping key (KEK) from the user's passphrase.
type WrappedDEK struct {
	Ciphertext []byte
	Nonce      []byte
	Salt       []byte
}

type projectKeys struct {
	enabled    bool
	wrapped    WrappedDEK
	dek        []byte // unwrapped, in-memory only; nil when locked
	previousDEK []byte // retained during a rotation window for reads
}

// KeyManager is the E2EE Key Manager (component M). The unwrapped DEK for
// a project exists only in memory; it is never logged or exposed to
// encoder/decoder code (§9 crypto boundary) beyond GetDEK.
type KeyManager struct {
	mu       sync.RWMutex
	projects map[string]*projectKeys
	cipher   Cipher
}

// NewKeyManager constructs an empty KeyManager using cipherSuite for all
// wrap/unwrap and content encryption operations.
func NewKeyManager(cipherSuite Cipher) *KeyManager {
	if cipherSuite == "" {
		cipherSuite = CipherAESGCM
	}
	return &KeyManager{projects: make(map[string]*projectKeys), cipher: cipherSuite}
}

func deriveKEK(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, dekSize)
}

func wrapDEK(kek, dek []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("read nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce, dek, nil)
	return ciphertext, nonce, nil
}

func unwrapDEK(kek []byte, wrapped WrappedDEK) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	dek, err := aead.Open(nil, wrapped.Nonce, wrapped.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap DEK", syncerr.ErrInvalidPassphrase)
	}
	return dek, nil
}

// Enable generates a fresh DEK for projectID, wraps it with a KEK derived
// from passphrase, and holds the DEK in memory (§4.M).
func (k *KeyManager) Enable(projectID, passphrase string) error {
	dek := make([]byte, dekSize)
	if _, err := rand.Read(dek); err != nil {
		return fmt.Errorf("generate DEK: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	kek, err := deriveKEK(passphrase, salt)
	if err != nil {
		return fmt.Errorf("derive KEK: %w", err)
	}
	ciphertext, nonce, err := wrapDEK(kek, dek)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.projects[projectID] = &projectKeys{
		enabled: true,
		wrapped: WrappedDEK{Ciphertext: ciphertext, Nonce: nonce, Salt: salt},
		dek:     dek,
	}
	return nil
}

// Unlock unwraps projectID's DEK using passphrase and holds it in memory.
func (k *KeyManager) Unlock(projectID, passphrase string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	pk, ok := k.projects[projectID]
	if !ok || !pk.enabled {
		return syncerr.ErrProjectNotEnabled
	}

	kek, err := deriveKEK(passphrase, pk.wrapped.Salt)
	if err != nil {
		return fmt.Errorf("derive KEK: %w", err)
	}
	dek, err := unwrapDEK(kek, pk.wrapped)
	if err != nil {
		return err
	}
	pk.dek = dek
	return nil
}

// Lock drops projectID's in-memory DEK.
func (k *KeyManager) Lock(projectID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if pk, ok := k.projects[projectID]; ok {
		pk.dek = nil
		pk.previousDEK = nil
	}
}

// IsEnabled reports whether projectID has E2EE enabled.
func (k *KeyManager) IsEnabled(projectID string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pk, ok := k.projects[projectID]
	return ok && pk.enabled
}

// IsUnlocked reports whether projectID's DEK is currently held in memory.
func (k *KeyManager) IsUnlocked(projectID string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pk, ok := k.projects[projectID]
	return ok && pk.dek != nil
}

// GetDEK returns the in-memory DEK for projectID, or syncerr.ErrProjectLocked.
// The DEK is opaque to callers (§4.M: "opaque to encoder/decoder code").
func (k *KeyManager) GetDEK(projectID string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pk, ok := k.projects[projectID]
	if !ok || !pk.enabled {
		return nil, syncerr.ErrProjectNotEnabled
	}
	if pk.dek == nil {
		return nil, syncerr.ErrProjectLocked
	}
	return pk.dek, nil
}

// PreviousDEK returns the DEK retained across a rotation window, if any,
// for decrypting rows written before the rotation (§4.M: "reads must try
// both during rotation window").
func (k *KeyManager) PreviousDEK(projectID string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pk, ok := k.projects[projectID]
	if !ok || pk.previousDEK == nil {
		return nil, false
	}
	return pk.previousDEK, true
}

// Rotate issues a new DEK for projectID, wrapped with the same passphrase,
// retaining the old DEK for reads during the rotation window (§4.M).
func (k *KeyManager) Rotate(projectID, passphrase string) error {
	k.mu.Lock()
	pk, ok := k.projects[projectID]
	k.mu.Unlock()
	if !ok || !pk.enabled {
		return syncerr.ErrProjectNotEnabled
	}

	oldDEK, err := k.GetDEK(projectID)
	if err != nil {
		return err
	}

	newDEK := make([]byte, dekSize)
	if _, err := rand.Read(newDEK); err != nil {
		return fmt.Errorf("generate DEK: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	kek, err := deriveKEK(passphrase, salt)
	if err != nil {
		return fmt.Errorf("derive KEK: %w", err)
	}
	ciphertext, nonce, err := wrapDEK(kek, newDEK)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	pk.wrapped = WrappedDEK{Ciphertext: ciphertext, Nonce: nonce, Salt: salt}
	pk.previousDEK = oldDEK
	pk.dek = newDEK
	return nil
}

// CipherSuite returns the AEAD cipher this manager encrypts content with.
func (k *KeyManager) CipherSuite() Cipher { return k.cipher }
