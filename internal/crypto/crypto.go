// Package crypto implements the authenticated encryption envelope used to
// store channel messages. The envelope is salt(16) + nonce(12) + ciphertext
// with AEAD tag, base64-encoded for storage. Salt and nonce are fresh random
// values on every call; the key is derived from the shared secret per
// message, so nothing key-shaped ever leaves the process.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize       = 16
	nonceSize      = 12
	keySize        = 32
	tagSize        = 16
	kdfIterations  = 100000
	minEnvelopeLen = saltSize + nonceSize + tagSize
)

// sessionSalt is the fixed bootstrap salt for the session profile master
// key. Per-message keys still mix in a fresh random salt via HKDF.
const sessionSalt = "ghosttext-session-v1"

// hkdfInfo domain-separates per-message subkeys.
const hkdfInfo = "ghosttext-msg-v1"

// CryptoError represents an encryption/decryption error.
type CryptoError struct {
	Message string
}

func (e *CryptoError) Error() string {
	return e.Message
}

// errDecrypt is the single error surfaced for every decryption failure.
// Wrong key, tampered ciphertext, and malformed envelopes are deliberately
// indistinguishable to the caller.
var errDecrypt = &CryptoError{Message: "decryption failed: wrong key or tampered ciphertext"}

// ErrDecrypt reports whether err is a decryption failure. Other codec
// errors, such as constructing a Codec with an empty secret, do not match.
func ErrDecrypt(err error) bool {
	return errors.Is(err, errDecrypt)
}

// Profile selects how message keys are derived from the shared secret.
// Profiles are not wire-compatible; both ends of a channel must agree.
type Profile int

const (
	// ProfileInteractive runs the full PBKDF2 derivation with the
	// per-message salt on every call. Default.
	ProfileInteractive Profile = iota
	// ProfileSession runs PBKDF2 once at codec construction, then derives
	// per-message subkeys with HKDF over the per-message salt. Same
	// envelope layout, much cheaper per message.
	ProfileSession
)

// Suite selects the AEAD cipher. Both use a 12-byte nonce and 16-byte tag,
// so the envelope layout is identical either way.
type Suite int

const (
	SuiteAESGCM Suite = iota
	SuiteChaCha20Poly1305
)

// Codec encrypts and decrypts channel messages under a shared secret.
type Codec struct {
	secret    []byte
	profile   Profile
	suite     Suite
	masterKey []byte // session profile only
}

// Option configures a Codec.
type Option func(*Codec)

// WithProfile sets the key derivation profile.
func WithProfile(p Profile) Option {
	return func(c *Codec) { c.profile = p }
}

// WithSuite sets the AEAD cipher suite.
func WithSuite(s Suite) Option {
	return func(c *Codec) { c.suite = s }
}

// NewCodec binds a codec to the shared secret. The secret is the access
// phrase (or any string both parties hold); it must be non-empty.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, &CryptoError{Message: "shared secret must not be empty"}
	}
	c := &Codec{secret: []byte(secret)}
	for _, opt := range opts {
		opt(c)
	}
	if c.profile == ProfileSession {
		c.masterKey = pbkdf2.Key(c.secret, []byte(sessionSalt), kdfIterations, keySize, sha256.New)
	}
	return c, nil
}

// messageKey derives the per-message key for the given salt.
func (c *Codec) messageKey(salt []byte) ([]byte, error) {
	if c.profile == ProfileSession {
		key := make([]byte, keySize)
		r := hkdf.New(sha256.New, c.masterKey, salt, []byte(hkdfInfo))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, err
		}
		return key, nil
	}
	return pbkdf2.Key(c.secret, salt, kdfIterations, keySize, sha256.New), nil
}

// aead constructs the AEAD for the configured suite.
func (c *Codec) aead(key []byte) (cipher.AEAD, error) {
	if c.suite == SuiteChaCha20Poly1305 {
		return chacha20poly1305.New(key)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext into a base64 envelope. Salt and nonce are fresh
// random values; reuse under the same key would break the AEAD, so they are
// never cached or derived.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key, err := c.messageKey(salt)
	if err != nil {
		return "", err
	}

	aead, err := c.aead(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)

	envelope := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, ciphertext...)

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens a base64 envelope and returns the plaintext. Any failure,
// from malformed base64 to an authentication tag mismatch, produces the same
// generic error.
func (c *Codec) Decrypt(envelopeB64 string) (string, error) {
	envelope, err := base64.StdEncoding.DecodeString(envelopeB64)
	if err != nil {
		return "", errDecrypt
	}
	if len(envelope) < minEnvelopeLen {
		return "", errDecrypt
	}

	salt := envelope[:saltSize]
	nonce := envelope[saltSize : saltSize+nonceSize]
	ciphertext := envelope[saltSize+nonceSize:]

	key, err := c.messageKey(salt)
	if err != nil {
		return "", errDecrypt
	}

	aead, err := c.aead(key)
	if err != nil {
		return "", errDecrypt
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errDecrypt
	}

	return string(plaintext), nil
}
