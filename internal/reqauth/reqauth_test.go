package reqauth

import (
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownVector(t *testing.T) {
	// hmac-sha256("secret", "M1" + `{"id":"x"}`)
	got := Sign([]byte("secret"), "M1", []byte(`{"id":"x"}`))
	require.Len(t, got, 64)
	assert.Equal(t, got, Sign([]byte("secret"), "M1", []byte(`{"id":"x"}`)))
	assert.NotEqual(t, got, Sign([]byte("secret"), "M2", []byte(`{"id":"x"}`)))
	assert.NotEqual(t, got, Sign([]byte("other"), "M1", []byte(`{"id":"x"}`)))
}

func TestVerify(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"id":"abc"}`)
	sig := Sign(secret, "M1", body)

	require.NoError(t, Verify(secret, "M1", body, sig))
	assert.ErrorIs(t, Verify(secret, "M1", []byte(`{"id":"abd"}`), sig), ErrBadSignature)
	assert.ErrorIs(t, Verify(secret, "M1", body, "zz"), ErrBadSignature)
	assert.ErrorIs(t, Verify(secret, "M1", body, ""), ErrMissingSignature)
	assert.ErrorIs(t, Verify(secret, "", body, sig), ErrMissingSignature)
}

func TestSignerDisabledLeavesHeadersEmpty(t *testing.T) {
	req := httptest.NewRequest("GET", "/tasks/M1", nil)
	NewSigner("", "M1").Apply(req.Header, nil)
	assert.Empty(t, req.Header.Get(HeaderSignature))
	assert.Empty(t, req.Header.Get(HeaderMachineID))

	var nilSigner *Signer
	assert.False(t, nilSigner.Enabled())
}

func TestVerifyRequest(t *testing.T) {
	secret := []byte("k")
	req := httptest.NewRequest("GET", "/tasks/M1", nil)
	NewSigner("k", "M1").Apply(req.Header, nil)

	machine, err := VerifyRequest(secret, req, nil, "M1")
	require.NoError(t, err)
	assert.Equal(t, "M1", machine)

	_, err = VerifyRequest(secret, req, nil, "M2")
	assert.ErrorIs(t, err, ErrMachineMismatch)
}

func TestSignDeterministicAndVerifiable(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("sign is deterministic and verifies", prop.ForAll(
		func(secret, machine, body string) bool {
			a := Sign([]byte(secret), machine, []byte(body))
			b := Sign([]byte(secret), machine, []byte(body))
			if a != b {
				return false
			}
			if machine == "" {
				return true
			}
			return Verify([]byte(secret), machine, []byte(body), a) == nil
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AnyString(),
	))

	properties.Property("a changed body fails verification", prop.ForAll(
		func(machine, body string) bool {
			sig := Sign([]byte("k"), machine, []byte(body))
			return Verify([]byte("k"), machine, []byte(body+"x"), sig) != nil
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
