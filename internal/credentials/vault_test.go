package credentials

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
)

func testCredential() domain.Credential {
	return domain.Credential{APIKey: "key", APISecret: "secret", Passphrase: "phrase"}
}

func TestVaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")

	v, err := OpenVault(path, "hunter2")
	require.NoError(t, err)
	require.NoError(t, v.Put("user-1", "okx", testCredential()))
	require.NoError(t, v.Save())

	reopened, err := OpenVault(path, "hunter2")
	require.NoError(t, err)

	cred, err := reopened.Get(context.Background(), "user-1", "okx")
	require.NoError(t, err)
	assert.Equal(t, testCredential(), cred)
}

func TestVaultWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")

	v, err := OpenVault(path, "correct")
	require.NoError(t, err)
	require.NoError(t, v.Put("user-1", "binance", testCredential()))
	require.NoError(t, v.Save())

	wrong, err := OpenVault(path, "incorrect")
	require.NoError(t, err)

	_, err = wrong.Get(context.Background(), "user-1", "binance")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestVaultMissingCredential(t *testing.T) {
	v, err := OpenVault(filepath.Join(t.TempDir(), "vault.json"), "pw")
	require.NoError(t, err)

	_, err = v.Get(context.Background(), "user-1", "gate")
	assert.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
}

func TestVaultDelete(t *testing.T) {
	v, err := OpenVault(filepath.Join(t.TempDir(), "vault.json"), "pw")
	require.NoError(t, err)
	require.NoError(t, v.Put("user-1", "bitget", testCredential()))

	v.Delete("user-1", "bitget")

	_, err = v.Get(context.Background(), "user-1", "bitget")
	assert.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
}

func TestVaultRejectsEmptyPassword(t *testing.T) {
	_, err := OpenVault(filepath.Join(t.TempDir(), "vault.json"), "")
	assert.Error(t, err)
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource()
	src.Set("user-1", "bingx", testCredential())

	cred, err := src.Get(context.Background(), "user-1", "bingx")
	require.NoError(t, err)
	assert.Equal(t, "key", cred.APIKey)

	_, err = src.Get(context.Background(), "user-2", "bingx")
	assert.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
}
