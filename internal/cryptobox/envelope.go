// Package cryptobox implements the E2EE Key Manager (component M) and the
// envelope encryption primitives used by the Upsert Encoder (component I),
// grounded on infrastructure/crypto/envelope.go's AES-256-GCM envelope
// scheme, with an XChaCha20-Poly1305 alternate cipher suite from
// golang.org/x/crypto per §6's "AEAD (XChaCha20-Poly1305 or AES-256-GCM)".
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher selects the AEAD used for a project's record content.
type Cipher string

const (
	CipherAESGCM          Cipher = "aes-256-gcm"
	CipherXChaCha20Poly1305 Cipher = "xchacha20-poly1305"
)

// EncryptedContent is the E2EE row format described in §6:
// `{ciphertext: base64, nonce: base64}`.
type EncryptedContent struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// aad binds ciphertext to its row, per §6: "Associated data includes
// (table, id, projectId)".
func aad(table, id, projectID string) []byte {
	return []byte(table + "\x00" + id + "\x00" + projectID)
}

func newAEAD(cipherSuite Cipher, dek []byte) (cipher.AEAD, error) {
	if len(dek) != 32 {
		return nil, fmt.Errorf("DEK must be 32 bytes, got %d", len(dek))
	}
	switch cipherSuite {
	case CipherXChaCha20Poly1305:
		return chacha20poly1305.NewX(dek)
	default:
		block, err := aes.NewCipher(dek)
		if err != nil {
			return nil, fmt.Errorf("new cipher: %w", err)
		}
		return cipher.NewGCM(block)
	}
}

// EncryptJSON marshals content to JSON and seals it under dek, binding
// (table, id, projectID) as associated data (§4.I, §6).
func EncryptJSON(cipherSuite Cipher, dek []byte, table, id, projectID string, content any) (EncryptedContent, error) {
	plaintext, err := json.Marshal(content)
	if err != nil {
		return EncryptedContent{}, fmt.Errorf("marshal content: %w", err)
	}

	aead, err := newAEAD(cipherSuite, dek)
	if err != nil {
		return EncryptedContent{}, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedContent{}, fmt.Errorf("read nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, aad(table, id, projectID))

	return EncryptedContent{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// DecryptJSON reverses EncryptJSON, unmarshaling the recovered plaintext
// into out.
func DecryptJSON(cipherSuite Cipher, dek []byte, table, id, projectID string, enc EncryptedContent, out any) error {
	ciphertext, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	if err != nil {
		return fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(enc.Nonce)
	if err != nil {
		return fmt.Errorf("decode nonce: %w", err)
	}

	aead, err := newAEAD(cipherSuite, dek)
	if err != nil {
		return err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad(table, id, projectID))
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("unmarshal content: %w", err)
	}
	return nil
}
