// Package reqauth signs and verifies agent requests with a shared
// secret. The signature covers the machine id followed by the request
// body.
package reqauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

const (
	HeaderMachineID = "X-Machine-Id"
	HeaderSignature = "X-Signature"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("invalid signature")
	ErrMachineMismatch  = errors.New("machine id does not match request")
)

// Sign returns hex(HMAC-SHA256(secret, machineID || body)).
func Sign(secret []byte, machineID string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(machineID))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the expected value in constant time.
func Verify(secret []byte, machineID string, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" || machineID == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(machineID))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Signer attaches signature headers to outgoing requests. A Signer with
// an empty secret leaves requests unsigned.
type Signer struct {
	secret    []byte
	machineID string
}

func NewSigner(secret, machineID string) *Signer {
	return &Signer{secret: []byte(secret), machineID: machineID}
}

func (s *Signer) Enabled() bool { return s != nil && len(s.secret) > 0 }

// Apply sets the machine id and signature headers for body.
func (s *Signer) Apply(h http.Header, body []byte) {
	if !s.Enabled() {
		return
	}
	h.Set(HeaderMachineID, s.machineID)
	h.Set(HeaderSignature, Sign(s.secret, s.machineID, body))
}

// VerifyRequest checks the signature headers on r against body. When
// wantMachine is non-empty the signed machine id must equal it.
func VerifyRequest(secret []byte, r *http.Request, body []byte, wantMachine string) (string, error) {
	machineID := strings.TrimSpace(r.Header.Get(HeaderMachineID))
	if err := Verify(secret, machineID, body, r.Header.Get(HeaderSignature)); err != nil {
		return machineID, err
	}
	if wantMachine != "" && machineID != wantMachine {
		return machineID, ErrMachineMismatch
	}
	return machineID, nil
}
