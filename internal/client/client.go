// Package client implements the client-side halves of the crypto pipeline:
// the owner's unlock/upload/approval flows and the vendor's secret-entry and
// document-opening flows. The server never runs this code path in a request;
// it exists so the full key schedule is executable and testable in-process.
package client

import (
	"errors"
	"fmt"

	"github.com/chirino/vault-service/internal/envelope"
	"github.com/chirino/vault-service/internal/vendorsecret"
	"github.com/google/uuid"
)

// ErrLocked is returned when an operation requires an unlocked vault session.
var ErrLocked = errors.New("client: vault is locked")

// OwnerSession holds the owner's derived KEK for the lifetime of an unlock.
// Locking zeroizes the key material.
type OwnerSession struct {
	kek []byte
}

// Unlock derives the KEK from the vault password and the vault's public KDF
// salt and parameters.
func Unlock(password string, kdfSalt []byte, params envelope.KdfParams) (*OwnerSession, error) {
	kek, err := envelope.DeriveKEK(password, kdfSalt, params)
	if err != nil {
		return nil, err
	}
	return &OwnerSession{kek: kek}, nil
}

// Lock zeroizes the KEK. The session is unusable afterwards.
func (s *OwnerSession) Lock() {
	for i := range s.kek {
		s.kek[i] = 0
	}
	s.kek = nil
}

// EncryptedDocument is the client-side result of sealing a document: the
// blob to upload, its checksum, and the DEK wrapped for the owner.
type EncryptedDocument struct {
	Blob                 []byte
	Checksum             string
	EncryptedDekForOwner []byte
	DekNonce             []byte
}

// EncryptDocument generates a fresh DEK, seals the plaintext, and wraps the
// DEK under the KEK. The DEK itself never leaves this function.
func (s *OwnerSession) EncryptDocument(plaintext []byte) (*EncryptedDocument, error) {
	if s.kek == nil {
		return nil, ErrLocked
	}
	dek, err := envelope.GenerateKey()
	if err != nil {
		return nil, err
	}
	blob, _, err := envelope.Seal(dek, plaintext)
	if err != nil {
		return nil, err
	}
	wrapped, nonce, err := envelope.Wrap(s.kek, dek)
	if err != nil {
		return nil, err
	}
	return &EncryptedDocument{
		Blob:                 blob,
		Checksum:             envelope.Checksum(blob),
		EncryptedDekForOwner: wrapped,
		DekNonce:             nonce,
	}, nil
}

// DecryptDocument unwraps the owner-wrapped DEK and opens a document blob.
func (s *OwnerSession) DecryptDocument(encryptedDekForOwner, blob []byte) ([]byte, error) {
	if s.kek == nil {
		return nil, ErrLocked
	}
	dek, err := envelope.Unwrap(s.kek, encryptedDekForOwner)
	if err != nil {
		return nil, err
	}
	return envelope.Open(dek, blob)
}

// DekWrapForLink is one document's DEK rewrapped under a link's LSK.
type DekWrapForLink struct {
	DocumentID   uuid.UUID
	EncryptedDek []byte
	Nonce        []byte
}

// ApprovalArtifacts is everything the owner's client hands the approve
// endpoint, plus the display-form Vendor Secret to transmit out of band.
type ApprovalArtifacts struct {
	VendorSecret          string
	LskSalt               []byte
	LskNonce              []byte
	EncryptedLskForVendor []byte
	DekWraps              []DekWrapForLink
}

// OwnerDocumentKey pairs a document id with its owner-wrapped DEK, as
// returned by the documents listing.
type OwnerDocumentKey struct {
	DocumentID           uuid.UUID
	EncryptedDekForOwner []byte
}

// BuildApproval performs the approval-side key schedule: generate the Vendor
// Secret and LSK, derive K_wrap, wrap the LSK under it, and rewrap every
// requested DEK under the LSK.
func (s *OwnerSession) BuildApproval(docs []OwnerDocumentKey) (*ApprovalArtifacts, error) {
	if s.kek == nil {
		return nil, ErrLocked
	}

	vs, err := vendorsecret.Generate()
	if err != nil {
		return nil, err
	}
	normalized, err := vendorsecret.Normalize(vs)
	if err != nil {
		return nil, fmt.Errorf("client: generated secret failed self-check: %w", err)
	}
	vsBytes, err := vendorsecret.ToBytes(normalized)
	if err != nil {
		return nil, err
	}

	lsk, err := envelope.GenerateKey()
	if err != nil {
		return nil, err
	}
	lskSalt, err := envelope.GenerateSalt()
	if err != nil {
		return nil, err
	}
	kWrap, err := envelope.VendorWrapKey(vsBytes, lskSalt)
	if err != nil {
		return nil, err
	}
	wrappedLsk, lskNonce, err := envelope.Wrap(kWrap, lsk)
	if err != nil {
		return nil, err
	}

	wraps := make([]DekWrapForLink, 0, len(docs))
	for _, d := range docs {
		dek, err := envelope.Unwrap(s.kek, d.EncryptedDekForOwner)
		if err != nil {
			return nil, fmt.Errorf("client: unwrapping DEK for %s: %w", d.DocumentID, err)
		}
		rewrapped, nonce, err := envelope.Wrap(lsk, dek)
		if err != nil {
			return nil, err
		}
		wraps = append(wraps, DekWrapForLink{
			DocumentID:   d.DocumentID,
			EncryptedDek: rewrapped,
			Nonce:        nonce,
		})
	}

	return &ApprovalArtifacts{
		VendorSecret:          vs,
		LskSalt:               lskSalt,
		LskNonce:              lskNonce,
		EncryptedLskForVendor: wrappedLsk,
		DekWraps:              wraps,
	}, nil
}

// VendorSession holds the vendor's recovered LSK after secret entry.
type VendorSession struct {
	lsk []byte
}

// AcceptSecret validates the transcribed Vendor Secret locally (a typo fails
// here, before any HTTP call), derives K_wrap, and unwraps the LSK.
func AcceptSecret(input string, lskSalt, encryptedLskForVendor []byte) (*VendorSession, error) {
	normalized, err := vendorsecret.Normalize(input)
	if err != nil {
		return nil, err
	}
	vsBytes, err := vendorsecret.ToBytes(normalized)
	if err != nil {
		return nil, err
	}
	kWrap, err := envelope.VendorWrapKey(vsBytes, lskSalt)
	if err != nil {
		return nil, err
	}
	lsk, err := envelope.Unwrap(kWrap, encryptedLskForVendor)
	if err != nil {
		return nil, err
	}
	return &VendorSession{lsk: lsk}, nil
}

// Close zeroizes the LSK.
func (v *VendorSession) Close() {
	for i := range v.lsk {
		v.lsk[i] = 0
	}
	v.lsk = nil
}

// OpenDocument unwraps a link-wrapped DEK and opens the document blob.
func (v *VendorSession) OpenDocument(encryptedDekForLink, blob []byte) ([]byte, error) {
	if v.lsk == nil {
		return nil, ErrLocked
	}
	dek, err := envelope.Unwrap(v.lsk, encryptedDekForLink)
	if err != nil {
		return nil, err
	}
	return envelope.Open(dek, blob)
}

// NewWatermarkReference returns the UUIDv4 the client binds into the visible
// watermark and the reveal audit event. Generated before decryption.
func NewWatermarkReference() string {
	return uuid.NewString()
}
