package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256
	gcmSaltLen   = 16
	vaultKeyEnv  = "ENGINECORE_VAULT_KEY"
)

// CredentialVault stores per-exchange API credentials encrypted at rest with
// AES-256-GCM. Each secret gets its own random salt and nonce; the derived
// key never touches disk, only ciphertext, IV, and salt do - each as its own
// hex column, never packed into a single blob.
type CredentialVault struct {
	pool       PoolInterface
	passphrase []byte
}

// NewCredentialVault creates a vault backed by pool, deriving its passphrase
// from ENGINECORE_VAULT_KEY or a generated machine key file.
func NewCredentialVault(pool PoolInterface) (*CredentialVault, error) {
	passphrase, err := loadOrCreatePassphrase()
	if err != nil {
		return nil, fmt.Errorf("loading vault passphrase: %w", err)
	}
	return &CredentialVault{pool: pool, passphrase: passphrase}, nil
}

// loadOrCreatePassphrase resolves the process-held passphrase used to derive
// per-secret encryption keys: the env var takes priority, falling back to a
// machine key file generated on first use.
func loadOrCreatePassphrase() ([]byte, error) {
	if key := os.Getenv(vaultKeyEnv); key != "" {
		return []byte(key), nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	keyPath := filepath.Join(dir, "enginecore", "vault.key")

	if data, err := os.ReadFile(keyPath); err == nil {
		return data, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating machine key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("creating vault key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("writing machine key: %w", err)
	}

	return key, nil
}

func (v *CredentialVault) encrypt(plaintext string) (EncryptedSecret, error) {
	salt := make([]byte, gcmSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return EncryptedSecret{}, fmt.Errorf("generating salt: %w", err)
	}

	key, err := scrypt.Key(v.passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedSecret{}, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return EncryptedSecret{
		CiphertextHex: hex.EncodeToString(ciphertext),
		IVHex:         hex.EncodeToString(nonce),
		SaltHex:       hex.EncodeToString(salt),
		Algorithm:     "AES-256-GCM",
	}, nil
}

func (v *CredentialVault) decrypt(secret EncryptedSecret) (string, error) {
	salt, err := hex.DecodeString(secret.SaltHex)
	if err != nil {
		return "", fmt.Errorf("decoding salt: %w", err)
	}
	nonce, err := hex.DecodeString(secret.IVHex)
	if err != nil {
		return "", fmt.Errorf("decoding iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(secret.CiphertextHex)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	key, err := scrypt.Key(v.passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting secret: %w", err)
	}
	return string(plaintext), nil
}

// Save encrypts and upserts apiKey/apiSecret for exchange, each with its own
// salt and nonce.
func (v *CredentialVault) Save(ctx context.Context, exchange, apiKey, apiSecret string) error {
	keySecret, err := v.encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("encrypting api key: %w", err)
	}
	secretSecret, err := v.encrypt(apiSecret)
	if err != nil {
		return fmt.Errorf("encrypting api secret: %w", err)
	}

	_, err = v.pool.Exec(ctx, `
		INSERT INTO exchange_credentials (
			exchange,
			api_key_ciphertext_hex, api_key_iv_hex, api_key_salt_hex,
			api_secret_ciphertext_hex, api_secret_iv_hex, api_secret_salt_hex,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (exchange) DO UPDATE SET
			api_key_ciphertext_hex = EXCLUDED.api_key_ciphertext_hex,
			api_key_iv_hex = EXCLUDED.api_key_iv_hex,
			api_key_salt_hex = EXCLUDED.api_key_salt_hex,
			api_secret_ciphertext_hex = EXCLUDED.api_secret_ciphertext_hex,
			api_secret_iv_hex = EXCLUDED.api_secret_iv_hex,
			api_secret_salt_hex = EXCLUDED.api_secret_salt_hex,
			updated_at = EXCLUDED.updated_at
	`, exchange, keySecret.CiphertextHex, keySecret.IVHex, keySecret.SaltHex,
		secretSecret.CiphertextHex, secretSecret.IVHex, secretSecret.SaltHex)
	if err != nil {
		return fmt.Errorf("saving credentials for %s: %w", exchange, err)
	}
	return nil
}

// Load returns the decrypted apiKey/apiSecret for exchange. ok is false if no
// row exists.
func (v *CredentialVault) Load(ctx context.Context, exchange string) (apiKey, apiSecret string, ok bool, err error) {
	row := v.pool.QueryRow(ctx, `
		SELECT api_key_ciphertext_hex, api_key_iv_hex, api_key_salt_hex,
		       api_secret_ciphertext_hex, api_secret_iv_hex, api_secret_salt_hex
		FROM exchange_credentials WHERE exchange = $1
	`, exchange)

	var keySecret, secretSecret EncryptedSecret
	err = row.Scan(
		&keySecret.CiphertextHex, &keySecret.IVHex, &keySecret.SaltHex,
		&secretSecret.CiphertextHex, &secretSecret.IVHex, &secretSecret.SaltHex,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("loading credentials for %s: %w", exchange, err)
	}

	apiKey, err = v.decrypt(keySecret)
	if err != nil {
		return "", "", false, fmt.Errorf("decrypting api key for %s: %w", exchange, err)
	}
	apiSecret, err = v.decrypt(secretSecret)
	if err != nil {
		return "", "", false, fmt.Errorf("decrypting api secret for %s: %w", exchange, err)
	}

	return apiKey, apiSecret, true, nil
}

// Has reports whether a credential row exists for exchange.
func (v *CredentialVault) Has(ctx context.Context, exchange string) (bool, error) {
	var exists bool
	err := v.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM exchange_credentials WHERE exchange = $1)`, exchange).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking credentials for %s: %w", exchange, err)
	}
	return exists, nil
}

// Delete removes the credential row for exchange. Deleting a nonexistent
// exchange is not an error.
func (v *CredentialVault) Delete(ctx context.Context, exchange string) error {
	_, err := v.pool.Exec(ctx, `DELETE FROM exchange_credentials WHERE exchange = $1`, exchange)
	if err != nil {
		return fmt.Errorf("deleting credentials for %s: %w", exchange, err)
	}
	return nil
}
