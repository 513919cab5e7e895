package cryptobox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillwriter/syncengine/internal/syncerr"
)

func TestEnableUnlockLockLifecycle(t *testing.T) {
	km := NewKeyManager(CipherAESGCM)
	require.NoError(t, km.Enable("p1", "correct horse"))
	assert.True(t, km.IsEnabled("p1"))
	assert.True(t, km.IsUnlocked("p1"))

	km.Lock("p1")
	assert.False(t, km.IsUnlocked("p1"))

	_, err := km.GetDEK("p1")
	assert.ErrorIs(t, err, syncerr.ErrProjectLocked)

	require.NoError(t, km.Unlock("p1", "correct horse"))
	assert.True(t, km.IsUnlocked("p1"))
}

func TestUnlockWrongPassphraseFails(t *testing.T) {
	km := NewKeyManager(CipherAESGCM)
	require.NoError(t, km.Enable("p1", "correct horse"))
	km.Lock("p1")

	err := km.Unlock("p1", "wrong horse")
	assert.ErrorIs(t, err, syncerr.ErrInvalidPassphrase)
}

func TestRotateRetainsPreviousDEKForReads(t *testing.T) {
	km := NewKeyManager(CipherAESGCM)
	require.NoError(t, km.Enable("p1", "pw"))
	oldDEK, err := km.GetDEK("p1")
	require.NoError(t, err)

	require.NoError(t, km.Rotate("p1", "pw"))
	newDEK, err := km.GetDEK("p1")
	require.NoError(t, err)
	assert.NotEqual(t, oldDEK, newDEK)

	prev, ok := km.PreviousDEK("p1")
	require.True(t, ok)
	assert.Equal(t, oldDEK, prev)
}

func TestEncryptDecryptJSONRoundTrip(t *testing.T) {
	km := NewKeyManager(CipherAESGCM)
	require.NoError(t, km.Enable("p1", "pw"))
	dek, err := km.GetDEK("p1")
	require.NoError(t, err)

	content := map[string]any{"title": "Chapter One", "body": "It was a dark and stormy night."}
	enc, err := EncryptJSON(km.CipherSuite(), dek, "chapters", "c1", "p1", content)
	require.NoError(t, err)

	var out map[string]any
	err = DecryptJSON(km.CipherSuite(), dek, "chapters", "c1", "p1", enc, &out)
	require.NoError(t, err)
	assert.Equal(t, "Chapter One", out["title"])
}

func TestDecryptFailsWithWrongAAD(t *testing.T) {
	km := NewKeyManager(CipherAESGCM)
	require.NoError(t, km.Enable("p1", "pw"))
	dek, _ := km.GetDEK("p1")

	enc, err := EncryptJSON(km.CipherSuite(), dek, "chapters", "c1", "p1", map[string]any{"title": "x"})
	require.NoError(t, err)

	var out map[string]any
	err = DecryptJSON(km.CipherSuite(), dek, "chapters", "c2", "p1", enc, &out)
	assert.Error(t, err)
}

func TestXChaCha20Poly1305RoundTrip(t *testing.T) {
	km := NewKeyManager(CipherXChaCha20Poly1305)
	require.NoError(t, km.Enable("p1", "pw"))
	dek, _ := km.GetDEK("p1")

	content := map[string]any{"title": "Chapter Two"}
	enc, err := EncryptJSON(km.CipherSuite(), dek, "chapters", "c1", "p1", content)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, DecryptJSON(km.CipherSuite(), dek, "chapters", "c1", "p1", enc, &out))
	assert.Equal(t, "Chapter Two", out["title"])
}
