package storage

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) (*CredentialVault, pgxmock.PgxPoolIface) {
	t.Helper()
	t.Setenv("ENGINECORE_VAULT_KEY", "test-passphrase-not-for-production-use")

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	vault, err := NewCredentialVault(mock)
	require.NoError(t, err)
	return vault, mock
}

func TestCredentialVault_SaveRoundTrip(t *testing.T) {
	vault, mock := newTestVault(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO exchange_credentials").
		WithArgs("binance", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := vault.Save(ctx, "binance", "my-api-key", "my-api-secret")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialVault_LoadRoundTrip(t *testing.T) {
	vault, mock := newTestVault(t)
	ctx := context.Background()

	// Encrypt directly to produce deterministic row contents for the mock.
	keySecret, err := vault.encrypt("my-api-key")
	require.NoError(t, err)
	secretSecret, err := vault.encrypt("my-api-secret")
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"api_key_ciphertext_hex", "api_key_iv_hex", "api_key_salt_hex",
		"api_secret_ciphertext_hex", "api_secret_iv_hex", "api_secret_salt_hex",
	}).AddRow(
		keySecret.CiphertextHex, keySecret.IVHex, keySecret.SaltHex,
		secretSecret.CiphertextHex, secretSecret.IVHex, secretSecret.SaltHex,
	)

	mock.ExpectQuery("SELECT api_key_ciphertext_hex").
		WithArgs("binance").
		WillReturnRows(rows)

	apiKey, apiSecret, ok, err := vault.Load(ctx, "binance")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "my-api-key", apiKey)
	assert.Equal(t, "my-api-secret", apiSecret)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialVault_Has(t *testing.T) {
	vault, mock := newTestVault(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("binance").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := vault.Has(ctx, "binance")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialVault_Delete(t *testing.T) {
	vault, mock := newTestVault(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM exchange_credentials").
		WithArgs("binance").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := vault.Delete(ctx, "binance")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialVault_EncryptDecryptRoundTrip(t *testing.T) {
	vault, _ := newTestVault(t)

	secret, err := vault.encrypt("super-secret-value")
	require.NoError(t, err)
	assert.Equal(t, "AES-256-GCM", secret.Algorithm)
	assert.NotEmpty(t, secret.CiphertextHex)
	assert.NotEmpty(t, secret.IVHex)
	assert.NotEmpty(t, secret.SaltHex)

	plaintext, err := vault.decrypt(secret)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-value", plaintext)
}

func TestCredentialVault_DecryptWrongPassphraseFails(t *testing.T) {
	vault, _ := newTestVault(t)
	secret, err := vault.encrypt("super-secret-value")
	require.NoError(t, err)

	tamperedVault := &CredentialVault{passphrase: []byte("a-completely-different-passphrase")}
	_, err = tamperedVault.decrypt(secret)
	assert.Error(t, err)
}
