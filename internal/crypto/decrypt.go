// Package crypto implements the relay's authenticated envelope encryption
// (AES-256-GCM, 96-bit nonce, 128-bit tag) and producer credential checks.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/funkyfirehose/relay/internal/models"
)

// Wire contract sizes.
const (
	KeySize = 32
	IVSize  = 12
	TagSize = 16
)

var (
	ErrInvalidEnvelope      = errors.New("invalid envelope")
	ErrInvalidKey           = errors.New("invalid pre-shared key")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrMalformedPayload     = errors.New("malformed payload")
)

// DecryptError carries the failure kind (one of the sentinels above) and,
// for cipher and parse failures, the underlying cause. Only the kind should
// ever reach logs; clients get one uniform message regardless of kind.
type DecryptError struct {
	Kind  error
	Cause error
}

func (e *DecryptError) Error() string {
	if e.Cause == nil {
		return "decrypt: " + e.Kind.Error()
	}
	return fmt.Sprintf("decrypt: %s: %v", e.Kind, e.Cause)
}

func (e *DecryptError) Unwrap() error { return e.Kind }

// Envelope is the binary form of one encrypted inbound event.
type Envelope struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// DecodeEnvelope decodes the base64 body, IV and tag of a request.
// Standard and URL alphabets are accepted, padded or not.
func DecodeEnvelope(body, iv, tag string) (Envelope, error) {
	var env Envelope
	var err error
	if env.Ciphertext, err = decodeBase64(body); err != nil {
		return Envelope{}, &DecryptError{Kind: ErrInvalidEnvelope, Cause: fmt.Errorf("body: %w", err)}
	}
	if env.IV, err = decodeBase64(iv); err != nil {
		return Envelope{}, &DecryptError{Kind: ErrInvalidEnvelope, Cause: fmt.Errorf("iv: %w", err)}
	}
	if env.Tag, err = decodeBase64(tag); err != nil {
		return Envelope{}, &DecryptError{Kind: ErrInvalidEnvelope, Cause: fmt.Errorf("auth tag: %w", err)}
	}
	return env, nil
}

// ParseKey decodes a base64 pre-shared key and checks it is AES-256 key material.
func ParseKey(encoded string) ([]byte, error) {
	key, err := decodeBase64(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}
	return key, nil
}

// Decrypt verifies and decrypts one envelope under key and parses the
// plaintext as a JSON document. IV and tag lengths are checked before any
// cipher work is done.
func Decrypt(ciphertext, iv, tag, key []byte) (models.Message, error) {
	if len(iv) != IVSize || len(tag) != TagSize {
		slog.Debug("rejecting envelope with bad iv or tag length",
			slog.Int("iv_len", len(iv)), slog.Int("tag_len", len(tag)))
		return nil, &DecryptError{Kind: ErrInvalidEnvelope}
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, &DecryptError{Kind: ErrInvalidKey, Cause: err}
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		slog.Debug("envelope failed authentication", slog.Any("error", err))
		return nil, &DecryptError{Kind: ErrAuthenticationFailed, Cause: err}
	}

	return ParseMessage(plaintext)
}

// Open decrypts env under key.
func (env Envelope) Open(key []byte) (models.Message, error) {
	return Decrypt(env.Ciphertext, env.IV, env.Tag, key)
}

// ParseMessage validates that b is UTF-8 encoded JSON and returns its compact form.
func ParseMessage(b []byte) (models.Message, error) {
	if !utf8.Valid(b) {
		return nil, &DecryptError{Kind: ErrMalformedPayload, Cause: errors.New("payload is not valid UTF-8")}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil, &DecryptError{Kind: ErrMalformedPayload, Cause: err}
	}
	return models.Message(buf.Bytes()), nil
}

// Encrypt seals plaintext under key with a fresh random IV. It is the
// producer side of Decrypt.
func Encrypt(plaintext, key []byte) (Envelope, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return Envelope{}, err
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("generate iv: %w", err)
	}
	return seal(aead, plaintext, iv), nil
}

// EncryptWithIV is Encrypt with a caller-chosen IV. Reusing an IV under the
// same key breaks GCM; this exists for deterministic fixtures.
func EncryptWithIV(plaintext, key, iv []byte) (Envelope, error) {
	if len(iv) != IVSize {
		return Envelope{}, ErrInvalidEnvelope
	}
	aead, err := newAEAD(key)
	if err != nil {
		return Envelope{}, err
	}
	return seal(aead, plaintext, iv), nil
}

// Encode returns the base64 body, IV and tag as sent over HTTP.
func (env Envelope) Encode() (body, iv, tag string) {
	enc := base64.StdEncoding
	return enc.EncodeToString(env.Ciphertext), enc.EncodeToString(env.IV), enc.EncodeToString(env.Tag)
}

func seal(aead cipher.AEAD, plaintext, iv []byte) Envelope {
	sealed := aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - TagSize
	return Envelope{
		Ciphertext: sealed[:split],
		IV:         append([]byte(nil), iv...),
		Tag:        sealed[split:],
	}
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	trimmed := strings.TrimRight(s, "=")
	if strings.ContainsAny(trimmed, "-_") {
		return base64.RawURLEncoding.DecodeString(trimmed)
	}
	return base64.RawStdEncoding.DecodeString(trimmed)
}
