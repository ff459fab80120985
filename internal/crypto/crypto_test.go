package crypto

import (
	"encoding/base64"
	"testing"
)

func newTestCodec(t *testing.T, secret string, opts ...Option) *Codec {
	t.Helper()
	c, err := NewCodec(secret, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newTestCodec(t, "pass123")

	env, err := c.Encrypt("meet at 5")
	if err != nil {
		t.Fatal(err)
	}
	pt, err := c.Decrypt(env)
	if err != nil {
		t.Fatal(err)
	}
	if pt != "meet at 5" {
		t.Fatalf("expected 'meet at 5', got %q", pt)
	}
}

func TestRoundTripSessionProfile(t *testing.T) {
	c := newTestCodec(t, "pass123", WithProfile(ProfileSession))

	env, err := c.Encrypt("quarterly numbers look bad")
	if err != nil {
		t.Fatal(err)
	}
	pt, err := c.Decrypt(env)
	if err != nil {
		t.Fatal(err)
	}
	if pt != "quarterly numbers look bad" {
		t.Fatalf("unexpected plaintext %q", pt)
	}
}

func TestRoundTripChaCha(t *testing.T) {
	c := newTestCodec(t, "pass123", WithProfile(ProfileSession), WithSuite(SuiteChaCha20Poly1305))

	env, err := c.Encrypt("hello")
	if err != nil {
		t.Fatal(err)
	}
	pt, err := c.Decrypt(env)
	if err != nil {
		t.Fatal(err)
	}
	if pt != "hello" {
		t.Fatalf("unexpected plaintext %q", pt)
	}
}

func TestEnvelopeStructure(t *testing.T) {
	c := newTestCodec(t, "pass123")

	env, err := c.Encrypt("test")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(env)
	if err != nil {
		t.Fatal(err)
	}
	// 16 (salt) + 12 (nonce) + 4 (plaintext) + 16 (tag) = 48
	if len(raw) != 48 {
		t.Fatalf("expected envelope length 48, got %d", len(raw))
	}
}

func TestWrongKeyRejected(t *testing.T) {
	a := newTestCodec(t, "pass123")
	b := newTestCodec(t, "wrongpass")

	env, err := a.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(env); err == nil {
		t.Fatal("decryption with wrong secret must fail")
	} else if !ErrDecrypt(err) {
		t.Fatalf("expected a CryptoError, got %v", err)
	}
}

func TestTamperDetection(t *testing.T) {
	c := newTestCodec(t, "pass123")

	env, err := c.Encrypt("untampered")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(env)

	// Flip one bit in each envelope region: salt, nonce, ciphertext, tag.
	for _, pos := range []int{0, saltSize, saltSize + nonceSize, len(raw) - 1} {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[pos] ^= 0x01

		_, err := c.Decrypt(base64.StdEncoding.EncodeToString(mutated))
		if err == nil {
			t.Fatalf("bit flip at offset %d was not detected", pos)
		}
	}
}

func TestDecryptErrorsAreGeneric(t *testing.T) {
	c := newTestCodec(t, "pass123")
	other := newTestCodec(t, "different")

	env, _ := c.Encrypt("x")
	raw, _ := base64.StdEncoding.DecodeString(env)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	// Wrong key, tampered data, bad encoding, and truncation must all
	// surface the exact same error text.
	_, wantErr := other.Decrypt(env)
	if wantErr == nil {
		t.Fatal("wrong-key decrypt should fail")
	}
	cases := []string{
		tampered,
		"not base64!!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
	}
	for _, in := range cases {
		_, err := c.Decrypt(in)
		if err == nil {
			t.Fatalf("decrypt of %q should fail", in)
		}
		if err.Error() != wantErr.Error() {
			t.Fatalf("error messages must not distinguish failure causes: %q vs %q", err, wantErr)
		}
	}
}

func TestCiphertextsDiffer(t *testing.T) {
	c := newTestCodec(t, "pass123", WithProfile(ProfileSession))

	e1, _ := c.Encrypt("same")
	e2, _ := c.Encrypt("same")
	if e1 == e2 {
		t.Fatal("envelopes for the same plaintext must differ")
	}
}

func TestSaltNonceUniqueness(t *testing.T) {
	c := newTestCodec(t, "pass123", WithProfile(ProfileSession))

	salts := make(map[string]bool)
	nonces := make(map[string]bool)
	for i := 0; i < 200; i++ {
		env, err := c.Encrypt("sample")
		if err != nil {
			t.Fatal(err)
		}
		raw, _ := base64.StdEncoding.DecodeString(env)
		salt := string(raw[:saltSize])
		nonce := string(raw[saltSize : saltSize+nonceSize])
		if salts[salt] {
			t.Fatal("salt reused across encryptions")
		}
		if nonces[nonce] {
			t.Fatal("nonce reused across encryptions")
		}
		salts[salt] = true
		nonces[nonce] = true
	}
}

func TestProfilesNotWireCompatible(t *testing.T) {
	interactive := newTestCodec(t, "pass123")
	session := newTestCodec(t, "pass123", WithProfile(ProfileSession))

	env, err := interactive.Encrypt("pinned per deployment")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := session.Decrypt(env); err == nil {
		t.Fatal("profiles must not be wire-compatible")
	}
}

func TestLegacyUnsaltedEnvelopeRejected(t *testing.T) {
	// The deprecated scheme produced nonce(12) + ciphertext with no salt; a
	// short message in that format is under the minimum envelope length and
	// must be rejected outright.
	c := newTestCodec(t, "pass123")
	legacy := base64.StdEncoding.EncodeToString(make([]byte, nonceSize+tagSize+4))
	if _, err := c.Decrypt(legacy); err == nil {
		t.Fatal("legacy unsalted envelope must not decrypt")
	}
}

func TestEmptySecretRejected(t *testing.T) {
	if _, err := NewCodec(""); err == nil {
		t.Fatal("empty secret must be rejected")
	}
}

func TestErrDecryptMatchesOnlyDecryptFailures(t *testing.T) {
	c := newTestCodec(t, "pass123")
	if _, err := c.Decrypt("not base64!!!"); !ErrDecrypt(err) {
		t.Fatalf("decrypt failure should satisfy ErrDecrypt, got %v", err)
	}

	// A construction error is a CryptoError too, but not a decrypt failure.
	_, err := NewCodec("")
	if err == nil {
		t.Fatal("empty secret must be rejected")
	}
	if ErrDecrypt(err) {
		t.Fatal("codec construction error must not read as a decrypt failure")
	}
}
