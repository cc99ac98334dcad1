package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/apperrors"
)

const tokenVersion byte = 0x01

// KeySize is the raw key length in bytes
const KeySize = chacha20poly1305.KeySize

var encoding = base64.URLEncoding

// Vault encrypts credential blobs for storage at rest
type Vault struct {
	key []byte
}

// New creates a vault from a URL-safe base64 encoded key
func New(encodedKey string) (*Vault, error) {
	key, err := encoding.DecodeString(encodedKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode encryption key")
	}
	if len(key) != KeySize {
		return nil, errors.Errorf("encryption key must decode to %d bytes, got %d", KeySize, len(key))
	}
	return &Vault{key: key}, nil
}

// GenerateKey returns a fresh URL-safe base64 encoded key
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", errors.Wrap(err, "failed to generate encryption key")
	}
	return encoding.EncodeToString(key), nil
}

// Encrypt serializes data as compact JSON and seals it under a random nonce
func (v *Vault) Encrypt(data map[string]interface{}) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", apperrors.Encryption("Credentials are not JSON serializable")
	}
	return v.seal(plaintext)
}

// Decrypt opens a token and parses the JSON object inside
func (v *Vault) Decrypt(token string) (map[string]interface{}, error) {
	plaintext, err := v.open(token)
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	if err := json.Unmarshal(plaintext, &data); err != nil || data == nil {
		return nil, apperrors.Encryption("Decrypted data is not valid JSON")
	}
	return data, nil
}

// EncryptString seals a single secret value
func (v *Vault) EncryptString(value string) (string, error) {
	return v.seal([]byte(value))
}

// DecryptString opens a token holding a single secret value
func (v *Vault) DecryptString(token string) (string, error) {
	plaintext, err := v.open(token)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (v *Vault) seal(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", apperrors.Encryption("Failed to initialize cipher")
	}

	nonce := make([]byte, aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", apperrors.Encryption("Failed to generate nonce")
	}

	out := append([]byte{tokenVersion}, nonce...)
	out = aead.Seal(out, nonce, plaintext, []byte{tokenVersion})
	return encoding.EncodeToString(out), nil
}

func (v *Vault) open(token string) ([]byte, error) {
	invalid := apperrors.Encryption("Invalid encryption token - key may have changed")

	raw, err := encoding.DecodeString(token)
	if err != nil {
		return nil, invalid
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, apperrors.Encryption("Failed to initialize cipher")
	}

	if len(raw) < 1+aead.NonceSize()+aead.Overhead() || raw[0] != tokenVersion {
		return nil, invalid
	}

	nonce := raw[1 : 1+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, raw[1+aead.NonceSize():], []byte{tokenVersion})
	if err != nil {
		return nil, invalid
	}
	return plaintext, nil
}

// Mask renders a display-safe preview of a credential map. Strings longer than
// eight characters keep their first four and last three characters.
func Mask(data map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(data))
	for key, value := range data {
		s, ok := value.(string)
		if ok && len([]rune(s)) > 8 {
			r := []rune(s)
			masked[key] = string(r[:4]) + "***" + string(r[len(r)-3:])
			continue
		}
		masked[key] = "***"
	}
	return masked
}
