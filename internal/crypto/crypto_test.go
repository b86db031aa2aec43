package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key; never fund it.
const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSealOpenKey(t *testing.T) {
	sealed, err := SealKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := OpenKey(sealed, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = OpenKey(sealed, "wrong")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeySource{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	sealed, err := SealKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	got, err = LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeySource{})
	assert.Error(t, err)
	_, err = LoadKey(KeySource{RawPrivateKey: "abcd"})
	assert.Error(t, err)
}

func TestAttestIsCanonical(t *testing.T) {
	a, err := NewAttester(testKey)
	require.NoError(t, err)

	att1, err := a.Attest([]byte(`{"cardName":"Ember Drake","rarity":"epic","decision":{"approved":true}}`))
	require.NoError(t, err)
	att2, err := a.Attest([]byte(`{ "rarity": "epic", "decision": {"approved": true}, "cardName": "Ember Drake" }`))
	require.NoError(t, err)

	assert.Equal(t, att1.Digest, att2.Digest)
	assert.Equal(t, a.Address(), att1.Signer)

	ok, err := VerifyAttestation([]byte(`{"rarity":"epic","cardName":"Ember Drake","decision":{"approved":true}}`), att1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyAttestation([]byte(`{"rarity":"common","cardName":"Ember Drake","decision":{"approved":true}}`), att1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAttestRejectsInvalidJSON(t *testing.T) {
	a, err := NewAttester(testKey)
	require.NoError(t, err)
	_, err = a.Attest([]byte(`{not json`))
	assert.Error(t, err)
}

func TestRequestSigner(t *testing.T) {
	s := &RequestSigner{KeyID: "key-1", Secret: "shh"}
	h := s.HeadersAt("POST", "/payments", `{"amount":"1"}`, 1700000000)

	assert.Equal(t, "key-1", h[HeaderKeyID])
	assert.Equal(t, "1700000000", h[HeaderTimestamp])
	assert.True(t, s.Verify("POST", "/payments", `{"amount":"1"}`, "1700000000", h[HeaderSignature]))
	assert.False(t, s.Verify("POST", "/payments", `{"amount":"2"}`, "1700000000", h[HeaderSignature]))
	assert.NotContains(t, s.String(), "shh")
}
