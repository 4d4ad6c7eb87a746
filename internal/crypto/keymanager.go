// Package crypto holds the wallet key, signs CLOB orders with EIP-712 and
// produces L2 HMAC headers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Key file parameters. Files written with other values are refused.
const (
	keyFileVersion   = 1
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
)

var errEmptyPassword = errors.New("crypto: password must not be empty")

// sealedKey is the on-disk key file. Byte fields travel as base64.
type sealedKey struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// KeyConfig says where LoadKey finds the wallet key. A raw key wins over
// a key file.
type KeyConfig struct {
	RawPrivateKey    string // hex, 0x prefix optional
	EncryptedKeyPath string // file written by EncryptKey
	KeyPassword      string
}

// EncryptKey seals a hex private key under password (PBKDF2-SHA256,
// AES-256-GCM) and returns the key file contents.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errEmptyPassword
	}
	raw, err := parseKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	sk := sealedKey{Version: keyFileVersion, Salt: make([]byte, saltLen)}
	if _, err := rand.Read(sk.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := keyAEAD(password, sk.Salt)
	if err != nil {
		return nil, err
	}
	sk.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(sk.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	sk.Ciphertext = aead.Seal(nil, sk.Nonce, raw, nil)
	return json.MarshalIndent(sk, "", "  ")
}

// DecryptKey opens a key file written by EncryptKey and returns the key
// as hex without a 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if sk.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: key file version %d not supported", sk.Version)
	}
	aead, err := keyAEAD(password, sk.Salt)
	if err != nil {
		return "", err
	}
	if len(sk.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: key file nonce is %d bytes", len(sk.Nonce))
	}
	raw, err := aead.Open(nil, sk.Nonce, sk.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open key file (wrong password?): %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func keyAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

func parseKeyHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: private key is %d bytes, want 32", len(raw))
	}
	return raw, nil
}

// LoadKey returns the wallet key as hex without a 0x prefix. Key files
// readable by group or others are refused.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		raw, err := parseKeyHex(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(raw), nil

	case cfg.EncryptedKeyPath != "":
		info, err := os.Stat(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: key file: %w", err)
		}
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return "", fmt.Errorf("crypto: key file %s has mode %04o, want 0600", cfg.EncryptedKeyPath, perm)
		}
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return "", errors.New("crypto: no private key configured")
}
