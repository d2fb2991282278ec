package secrets

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/argon2"

	"autoclipper/internal/settings"
)

// Manager provides envelope encryption using a single master key.
type Manager struct {
	aead cipher.AEAD
}

// New creates a Manager from a raw 32-byte key.
func New(key []byte) (*Manager, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("key must be at least 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Manager{aead: aead}, nil
}

// Encrypt seals plaintext using AES-256-GCM and returns nonce and ciphertext.
func (m *Manager) Encrypt(plaintext []byte) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, m.aead.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = m.aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Decrypt opens ciphertext with the given nonce.
func (m *Manager) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	return m.aead.Open(nil, nonce, ciphertext, nil)
}

// EncryptString seals a string and returns base64(nonce || ciphertext),
// the representation stored in config values like ENCRYPTED_OPENROUTER.
func (m *Manager) EncryptString(plaintext string) (string, error) {
	nonce, ct, err := m.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// DecryptString reverses EncryptString.
func (m *Manager) DecryptString(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	ns := m.aead.NonceSize()
	if len(raw) < ns {
		return "", io.ErrUnexpectedEOF
	}
	pt, err := m.Decrypt(raw[:ns], raw[ns:])
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

const (
	nodeKeyEnv        = "AUTOCLIPPER_NODE_KEY"
	wrappedKeySetting = "crypto.wrapped_mk"
	kdfParamsSetting  = "crypto.kdf_params"
	keyFileName       = "fernet.key"

	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	saltSize            = 16
)

type kdfParams struct {
	Salt string `json:"salt"`
}

type wrappedKey struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Load returns a Manager over the service master key.
//
// When AUTOCLIPPER_NODE_KEY is set, the master key is wrapped with a KEK
// derived from it via argon2id and persisted in app_settings. Otherwise the
// raw 32-byte key lives at <secretsDir>/fernet.key, created on first boot.
func Load(ctx context.Context, secretsDir string, store *settings.Store) (*Manager, error) {
	nodeKey := os.Getenv(nodeKeyEnv)
	var mk []byte
	var err error
	if nodeKey != "" {
		if len(nodeKey) < 16 {
			return nil, errors.New("AUTOCLIPPER_NODE_KEY must be at least 16 characters")
		}
		if len(nodeKey) < 32 {
			log.Warn().Int("length", len(nodeKey)).Msg("AUTOCLIPPER_NODE_KEY appears weak")
		}
		mk, err = loadWrappedKey(ctx, nodeKey, store)
	} else {
		mk, err = loadOrCreateKeyFile(filepath.Join(secretsDir, keyFileName))
	}
	if err != nil {
		return nil, err
	}

	m, err := New(mk)
	if err != nil {
		return nil, err
	}
	// Round-trip check so a corrupt key fails at boot, not first use.
	nonce, ct, err := m.Encrypt([]byte("sentinel"))
	if err != nil {
		return nil, fmt.Errorf("sentinel encrypt: %w", err)
	}
	pt, err := m.Decrypt(nonce, ct)
	if err != nil {
		return nil, fmt.Errorf("sentinel decrypt: %w", err)
	}
	if !bytes.Equal(pt, []byte("sentinel")) {
		return nil, errors.New("sentinel mismatch")
	}
	return m, nil
}

func loadOrCreateKeyFile(path string) ([]byte, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) >= 32 {
		return b[:32], nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

func loadWrappedKey(ctx context.Context, nodeKey string, store *settings.Store) ([]byte, error) {
	paramsStr, err := store.Get(ctx, kdfParamsSetting)
	if err != nil {
		return nil, err
	}
	wrappedStr, err := store.Get(ctx, wrappedKeySetting)
	if err != nil {
		return nil, err
	}

	if paramsStr == "" || wrappedStr == "" {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		kek := argon2.IDKey([]byte(nodeKey), salt, argonTime, argonMemory, argonThreads, 32)
		wrapper, err := New(kek)
		if err != nil {
			return nil, err
		}
		mk := make([]byte, 32)
		if _, err := rand.Read(mk); err != nil {
			return nil, fmt.Errorf("generate master key: %w", err)
		}
		nonce, ct, err := wrapper.Encrypt(mk)
		if err != nil {
			return nil, err
		}
		wkJSON, _ := json.Marshal(wrappedKey{
			Nonce:      base64.StdEncoding.EncodeToString(nonce),
			Ciphertext: base64.StdEncoding.EncodeToString(ct),
		})
		paramsJSON, _ := json.Marshal(kdfParams{Salt: base64.StdEncoding.EncodeToString(salt)})
		if err := store.Set(ctx, wrappedKeySetting, string(wkJSON)); err != nil {
			return nil, err
		}
		if err := store.Set(ctx, kdfParamsSetting, string(paramsJSON)); err != nil {
			return nil, err
		}
		return mk, nil
	}

	var params kdfParams
	if err := json.Unmarshal([]byte(paramsStr), &params); err != nil {
		return nil, fmt.Errorf("parse kdf params: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(params.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	kek := argon2.IDKey([]byte(nodeKey), salt, argonTime, argonMemory, argonThreads, 32)
	wrapper, err := New(kek)
	if err != nil {
		return nil, err
	}
	var wk wrappedKey
	if err := json.Unmarshal([]byte(wrappedStr), &wk); err != nil {
		return nil, fmt.Errorf("parse wrapped key: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(wk.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(wk.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	mk, err := wrapper.Decrypt(nonce, ct)
	if err != nil {
		return nil, fmt.Errorf("unwrap master key: %w", err)
	}
	return mk, nil
}
