// Package envelope implements the client-side crypto envelope: AES-256-GCM
// sealing of document bytes and key wraps, Argon2id KEK derivation, and the
// HKDF subkey schedule for vendor access.
//
// Blob layouts are fixed:
//
//	document blob:  ciphertext || nonce(12) || tag(16)
//	wrap blob:      wrappedKey(32) || nonce(12) || tag(16)   — always 60 bytes
//
// Nonces are duplicated into sibling fields at the storage layer for
// diagnostics; the copy embedded in the blob is authoritative on decryption.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hkdf"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the size of every symmetric key in the hierarchy (KEK, DEK, LSK, K_wrap).
	KeySize = 32
	// NonceSize is the AES-GCM nonce size.
	NonceSize = 12
	// TagSize is the AES-GCM auth tag size.
	TagSize = 16
	// SaltSize is the size of KDF and HKDF salts.
	SaltSize = 16
	// WrapBlobSize is the fixed size of a key wrap blob.
	WrapBlobSize = KeySize + NonceSize + TagSize

	// vendorWrapInfo is the HKDF info string binding K_wrap to its purpose.
	vendorWrapInfo = "lsk-wrap"
)

var (
	// ErrAuthTag is returned when AEAD authentication fails: the ciphertext
	// was tampered with or the key is wrong. Callers must not distinguish
	// the two cases.
	ErrAuthTag = errors.New("envelope: authentication failed")

	// ErrMalformedBlob is returned when a blob is shorter than the minimum layout.
	ErrMalformedBlob = errors.New("envelope: malformed blob")

	// ErrKdfParams is returned when KDF parameters are outside the accepted
	// bounds. Out-of-range memory is rejected up front rather than letting
	// the allocation take the process down.
	ErrKdfParams = errors.New("envelope: unacceptable KDF parameters")
)

// KdfParams are the Argon2id tuning parameters persisted on a vault.
// They are public, immutable after vault creation, and required to unlock.
type KdfParams struct {
	MemoryKiB   uint32 `json:"memory_kib"  gorm:"column:memory_kib;not null"`
	Time        uint32 `json:"time"        gorm:"column:time;not null"`
	Parallelism uint32 `json:"parallelism" gorm:"column:parallelism;not null"`
}

// DefaultKdfParams returns the parameters selected at vault creation.
func DefaultKdfParams() KdfParams {
	return KdfParams{MemoryKiB: 65536, Time: 12, Parallelism: 4}
}

// Validate checks p against the accepted bounds.
func (p KdfParams) Validate() error {
	if p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024 {
		return fmt.Errorf("%w: memory %d KiB", ErrKdfParams, p.MemoryKiB)
	}
	if p.Time < 1 || p.Time > 64 {
		return fmt.Errorf("%w: time %d", ErrKdfParams, p.Time)
	}
	if p.Parallelism < 1 || p.Parallelism > 16 {
		return fmt.Errorf("%w: parallelism %d", ErrKdfParams, p.Parallelism)
	}
	return nil
}

// DeriveKEK derives the owner's key-encryption key from the vault password
// with Argon2id. The KEK never leaves client memory.
func DeriveKEK(password string, salt []byte, params KdfParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes", ErrKdfParams, SaltSize)
	}
	return argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, uint8(params.Parallelism), KeySize), nil
}

// GenerateKey returns a fresh random 32-byte key (DEK, LSK).
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("envelope: generating key: %w", err)
	}
	return key, nil
}

// GenerateSalt returns a fresh random 16-byte salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("envelope: generating salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext under key and returns the document blob
// ciphertext || nonce || tag along with the nonce used.
func Seal(key, plaintext []byte) (blob, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("envelope: generating nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil) // ciphertext || tag
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	blob = make([]byte, 0, len(sealed)+NonceSize)
	blob = append(blob, ct...)
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	return blob, nonce, nil
}

// Open decrypts a document blob produced by Seal. The nonce embedded in the
// blob is authoritative.
func Open(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, ErrMalformedBlob
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	tag := blob[len(blob)-TagSize:]
	nonce := blob[len(blob)-TagSize-NonceSize : len(blob)-TagSize]
	ct := blob[:len(blob)-TagSize-NonceSize]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthTag
	}
	return plain, nil
}

// Wrap seals a 32-byte inner key under outerKey into a fixed 60-byte wrap blob.
func Wrap(outerKey, innerKey []byte) (blob, nonce []byte, err error) {
	if len(innerKey) != KeySize {
		return nil, nil, fmt.Errorf("envelope: inner key must be %d bytes", KeySize)
	}
	return Seal(outerKey, innerKey)
}

// Unwrap recovers the inner key from a wrap blob.
func Unwrap(outerKey, blob []byte) ([]byte, error) {
	if len(blob) != WrapBlobSize {
		return nil, ErrMalformedBlob
	}
	inner, err := Open(outerKey, blob)
	if err != nil {
		return nil, err
	}
	if len(inner) != KeySize {
		return nil, ErrMalformedBlob
	}
	return inner, nil
}

// Checksum returns the hex SHA-256 of the full blob, computed by the client
// before upload and verified by the server at commit time.
func Checksum(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// VendorWrapKey derives K_wrap from the Vendor Secret bytes and the link's
// LSK salt. K_wrap decrypts the LSK-for-vendor blob.
func VendorWrapKey(vsBytes, lskSalt []byte) ([]byte, error) {
	key, err := hkdf.Key(sha256.New, vsBytes, lskSalt, vendorWrapInfo, KeySize)
	if err != nil {
		return nil, fmt.Errorf("envelope: HKDF derivation failed: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: GCM: %w", err)
	}
	return gcm, nil
}
