package filestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// At-rest encryption is orthogonal to the RFC cache semantics; it protects
// metadata and bodies written to a shared or backed-up filesystem using
// the same AES-256-GCM + scrypt construction as the securecache wrapper.
const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = 32
	saltSize  = 16
	nonceSize = 12
	saltFile  = ".salt"
)

// encryptor seals and opens store payloads with AES-256-GCM under a key
// derived from an operator passphrase.
type encryptor struct {
	gcm cipher.AEAD
}

// newEncryptor derives a key from passphrase and a salt private to this
// store root, read from saltFile under root or generated and persisted
// there on first use. A salt shared across installations would let one
// precomputed attack against the passphrase apply to every deployment;
// a per-root salt confines that cost to a single store.
func newEncryptor(root, passphrase string) (*encryptor, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("filestore: encryption passphrase must not be empty")
	}
	salt, err := loadOrCreateSalt(root)
	if err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("filestore: deriving key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("filestore: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("filestore: creating GCM: %w", err)
	}
	return &encryptor{gcm: gcm}, nil
}

func loadOrCreateSalt(root string) ([]byte, error) {
	path := filepath.Join(root, saltFile)
	if existing, err := os.ReadFile(path); err == nil {
		if len(existing) != saltSize {
			return nil, fmt.Errorf("filestore: salt file %s has unexpected length %d", path, len(existing))
		}
		return existing, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("filestore: reading salt file: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("filestore: generating salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("filestore: writing salt file: %w", err)
	}
	return salt, nil
}

func (e *encryptor) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("filestore: generating nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *encryptor) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("filestore: ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("filestore: decrypting: %w", err)
	}
	return plaintext, nil
}
