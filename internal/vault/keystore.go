package vault

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// ErrKeyNotFound is returned by a KeyStore when no entry exists.
var ErrKeyNotFound = errors.New("vault: key not found")

// KeyStore holds the per-field encryption keys outside the blob.
type KeyStore interface {
	Get(service, user string) (string, error)
	Set(service, user, value string) error
	Delete(service, user string) error
}

// OSKeyStore stores keys in the platform keyring (Keychain, Secret
// Service, Windows Credential Manager).
type OSKeyStore struct{}

func (OSKeyStore) Get(service, user string) (string, error) {
	v, err := keyring.Get(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrKeyNotFound
	}
	return v, err
}

func (OSKeyStore) Set(service, user, value string) error {
	return keyring.Set(service, user, value)
}

func (OSKeyStore) Delete(service, user string) error {
	err := keyring.Delete(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrKeyNotFound
	}
	return err
}
