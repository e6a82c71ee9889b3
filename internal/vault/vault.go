// Package vault keeps the agent's login principal and secret encrypted at
// rest. Each field is sealed with its own key; the keys live in the OS
// key store and the ciphertexts live in a small JSON blob on disk.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeyringService = "ZorderAgent"

	principalKeyID = "zorder_key_principal"
	secretKeyID    = "zorder_key_secret"

	fieldPrincipal = "principal"
	fieldSecret    = "secret"

	formatVersion = 1
)

// CryptoError reports a key store, decoding, or authentication failure.
// Load never returns partial credentials alongside it.
type CryptoError struct {
	Op    string
	Field string
	Err   error
}

func (e *CryptoError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("vault %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vault %s %s: %v", e.Op, e.Field, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// Credentials are the decrypted vault contents.
type Credentials struct {
	Principal string
	Secret    string
}

// LogValue keeps credentials out of structured logs.
func (c Credentials) LogValue() slog.Value { return slog.StringValue("[redacted]") }

type blob struct {
	Principal string `json:"principal"`
	Secret    string `json:"secret"`
	Version   int    `json:"version"`
}

type Vault struct {
	path   string
	keys   KeyStore
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string][]byte
}

func New(path string, keys KeyStore, logger *slog.Logger) *Vault {
	if keys == nil {
		keys = OSKeyStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		path:   path,
		keys:   keys,
		logger: logger,
		cache:  make(map[string][]byte),
	}
}

// DefaultPath is <user config dir>/Zorder/creds.bin (%APPDATA% on Windows).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "Zorder", "creds.bin")
}

func (v *Vault) Path() string { return v.path }

// Save encrypts both fields and replaces the blob atomically. Keys are
// created on first use; keys created by a Save that fails are removed
// again.
func (v *Vault) Save(principal, secret string) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var created []string
	defer func() {
		if err != nil {
			v.dropKeysLocked(created)
		}
	}()

	pk, isNew, err := v.keyLocked(principalKeyID, true)
	if err != nil {
		return err
	}
	if isNew {
		created = append(created, principalKeyID)
	}
	sk, isNew, err := v.keyLocked(secretKeyID, true)
	if err != nil {
		return err
	}
	if isNew {
		created = append(created, secretKeyID)
	}

	encP, err := seal(pk, fieldPrincipal, principal)
	if err != nil {
		return err
	}
	encS, err := seal(sk, fieldSecret, secret)
	if err != nil {
		return err
	}

	data, err := json.Marshal(blob{Principal: encP, Secret: encS, Version: formatVersion})
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}
	if err := writeFileAtomic(v.path, data); err != nil {
		return err
	}
	v.logger.Info("credentials saved", "path", v.path)
	return nil
}

// Load returns the decrypted credentials. found is false when no blob
// exists. Load never creates keys.
func (v *Vault) Load() (Credentials, bool, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, fmt.Errorf("read vault: %w", err)
	}

	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return Credentials{}, false, &CryptoError{Op: "decode", Err: err}
	}
	if b.Version != formatVersion {
		return Credentials{}, false, &CryptoError{Op: "decode", Err: fmt.Errorf("unsupported version %d", b.Version)}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	pk, _, err := v.keyLocked(principalKeyID, false)
	if err != nil {
		return Credentials{}, false, err
	}
	sk, _, err := v.keyLocked(secretKeyID, false)
	if err != nil {
		return Credentials{}, false, err
	}

	principal, err := open(pk, fieldPrincipal, b.Principal)
	if err != nil {
		return Credentials{}, false, err
	}
	secret, err := open(sk, fieldSecret, b.Secret)
	if err != nil {
		return Credentials{}, false, err
	}
	return Credentials{Principal: principal, Secret: secret}, true, nil
}

// Delete removes the blob and both keys. Missing pieces are ignored.
func (v *Vault) Delete() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.Remove(v.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove vault: %w", err)
	}
	for _, id := range []string{principalKeyID, secretKeyID} {
		if err := v.keys.Delete(KeyringService, id); err != nil && !errors.Is(err, ErrKeyNotFound) {
			v.logger.Warn("delete key failed", "key", id, "err", err)
		}
	}
	clear(v.cache)
	v.logger.Info("credentials deleted", "path", v.path)
	return nil
}

func (v *Vault) HasCredentials() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// InvalidateKeys drops cached keys so the next Load reads the key store.
func (v *Vault) InvalidateKeys() {
	v.mu.Lock()
	clear(v.cache)
	v.mu.Unlock()
}

// keyLocked returns the key for id, creating it when create is set and
// none exists. created reports whether this call stored a new key.
func (v *Vault) keyLocked(id string, create bool) (key []byte, created bool, err error) {
	if k, ok := v.cache[id]; ok {
		return k, false, nil
	}

	enc, err := v.keys.Get(KeyringService, id)
	switch {
	case errors.Is(err, ErrKeyNotFound) && create:
		k := make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(k); err != nil {
			return nil, false, &CryptoError{Op: "generate key", Field: id, Err: err}
		}
		if err := v.keys.Set(KeyringService, id, base64.StdEncoding.EncodeToString(k)); err != nil {
			return nil, false, &CryptoError{Op: "store key", Field: id, Err: err}
		}
		v.cache[id] = k
		return k, true, nil
	case err != nil:
		return nil, false, &CryptoError{Op: "load key", Field: id, Err: err}
	}

	k, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, false, &CryptoError{Op: "load key", Field: id, Err: err}
	}
	if len(k) != chacha20poly1305.KeySize {
		return nil, false, &CryptoError{Op: "load key", Field: id, Err: fmt.Errorf("key length %d", len(k))}
	}
	v.cache[id] = k
	return k, false, nil
}

// dropKeysLocked removes keys left behind by a failed Save.
func (v *Vault) dropKeysLocked(ids []string) {
	for _, id := range ids {
		delete(v.cache, id)
		if err := v.keys.Delete(KeyringService, id); err != nil && !errors.Is(err, ErrKeyNotFound) {
			v.logger.Warn("orphaned vault key not removed", "key", id, "err", err)
		}
	}
}

// seal returns base64(nonce || ciphertext) with the field name bound as
// additional data.
func seal(key []byte, field, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", &CryptoError{Op: "encrypt", Field: field, Err: err}
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", &CryptoError{Op: "encrypt", Field: field, Err: err}
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), []byte(field))
	return base64.StdEncoding.EncodeToString(out), nil
}

func open(key []byte, field, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Field: field, Err: err}
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Field: field, Err: err}
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", &CryptoError{Op: "decrypt", Field: field, Err: errors.New("ciphertext too short")}
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, []byte(field))
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Field: field, Err: err}
	}
	return string(pt), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir vault dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".creds-*")
	if err != nil {
		return fmt.Errorf("create temp vault: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp vault: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp vault: %w", err)
	}
	// Best effort; not every filesystem honours modes.
	_ = os.Chmod(tmpName, 0o600)
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace vault: %w", err)
	}
	return nil
}
