package client_test

import (
	"testing"

	"github.com/chirino/vault-service/internal/client"
	"github.com/chirino/vault-service/internal/envelope"
	"github.com/chirino/vault-service/internal/vendorsecret"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var kdfParams = envelope.KdfParams{MemoryKiB: 8 * 1024, Time: 1, Parallelism: 1}

func unlock(t *testing.T) *client.OwnerSession {
	t.Helper()
	salt := make([]byte, envelope.SaltSize)
	session, err := client.Unlock("correcthorsebatterystaple", salt, kdfParams)
	require.NoError(t, err)
	return session
}

func TestOwnerEncryptDecryptRoundTrip(t *testing.T) {
	session := unlock(t)
	defer session.Lock()

	enc, err := session.EncryptDocument([]byte("ABC"))
	require.NoError(t, err)
	require.Equal(t, envelope.Checksum(enc.Blob), enc.Checksum)
	require.Len(t, enc.EncryptedDekForOwner, envelope.WrapBlobSize)

	plain, err := session.DecryptDocument(enc.EncryptedDekForOwner, enc.Blob)
	require.NoError(t, err)
	require.Equal(t, []byte("ABC"), plain)
}

func TestWrongPasswordFailsAsAuthTag(t *testing.T) {
	session := unlock(t)
	enc, err := session.EncryptDocument([]byte("payload"))
	require.NoError(t, err)
	session.Lock()

	salt := make([]byte, envelope.SaltSize)
	wrong, err := client.Unlock("not the password", salt, kdfParams)
	require.NoError(t, err)
	defer wrong.Lock()

	_, err = wrong.DecryptDocument(enc.EncryptedDekForOwner, enc.Blob)
	require.ErrorIs(t, err, envelope.ErrAuthTag)
}

func TestLockedSessionRefuses(t *testing.T) {
	session := unlock(t)
	session.Lock()
	_, err := session.EncryptDocument([]byte("x"))
	require.ErrorIs(t, err, client.ErrLocked)
}

// TestFullKeySchedule walks the whole hierarchy: password → KEK → DEK, then
// approval (DEK → LSK-wrap → VS-wrap), then the vendor side back down to
// plaintext.
func TestFullKeySchedule(t *testing.T) {
	owner := unlock(t)
	defer owner.Lock()

	plaintexts := map[uuid.UUID][]byte{
		uuid.New(): []byte("passport scan"),
		uuid.New(): []byte("utility bill"),
	}
	docs := make([]client.OwnerDocumentKey, 0, len(plaintexts))
	blobs := map[uuid.UUID][]byte{}
	wrapsByDoc := map[uuid.UUID][]byte{}
	for id, pt := range plaintexts {
		enc, err := owner.EncryptDocument(pt)
		require.NoError(t, err)
		docs = append(docs, client.OwnerDocumentKey{DocumentID: id, EncryptedDekForOwner: enc.EncryptedDekForOwner})
		blobs[id] = enc.Blob
	}

	artifacts, err := owner.BuildApproval(docs)
	require.NoError(t, err)
	require.Len(t, artifacts.DekWraps, len(docs))
	require.Len(t, artifacts.EncryptedLskForVendor, envelope.WrapBlobSize)
	for _, w := range artifacts.DekWraps {
		require.Len(t, w.EncryptedDek, envelope.WrapBlobSize)
		wrapsByDoc[w.DocumentID] = w.EncryptedDek
	}

	// Vendor side: the transcribed secret recovers the LSK, then each DEK,
	// then each document.
	vendor, err := client.AcceptSecret(artifacts.VendorSecret, artifacts.LskSalt, artifacts.EncryptedLskForVendor)
	require.NoError(t, err)
	defer vendor.Close()

	for id, pt := range plaintexts {
		got, err := vendor.OpenDocument(wrapsByDoc[id], blobs[id])
		require.NoError(t, err)
		require.Equal(t, pt, got)
	}
}

// TestVendorSecretTypo verifies the transcription check happens before any
// cryptographic work: a flipped character fails Normalize, never reaching
// the HKDF/unwrap stage.
func TestVendorSecretTypo(t *testing.T) {
	owner := unlock(t)
	defer owner.Lock()

	enc, err := owner.EncryptDocument([]byte("doc"))
	require.NoError(t, err)
	artifacts, err := owner.BuildApproval([]client.OwnerDocumentKey{
		{DocumentID: uuid.New(), EncryptedDekForOwner: enc.EncryptedDekForOwner},
	})
	require.NoError(t, err)

	normalized, err := vendorsecret.Normalize(artifacts.VendorSecret)
	require.NoError(t, err)
	last := normalized[20]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	typo := normalized[:20] + string(replacement)

	_, err = client.AcceptSecret(typo, artifacts.LskSalt, artifacts.EncryptedLskForVendor)
	require.ErrorIs(t, err, vendorsecret.ErrBadChecksum)
}

func TestWrongVendorSecretFailsUnwrap(t *testing.T) {
	owner := unlock(t)
	defer owner.Lock()

	enc, err := owner.EncryptDocument([]byte("doc"))
	require.NoError(t, err)
	artifacts, err := owner.BuildApproval([]client.OwnerDocumentKey{
		{DocumentID: uuid.New(), EncryptedDekForOwner: enc.EncryptedDekForOwner},
	})
	require.NoError(t, err)

	// A different, validly-checksummed secret derives the wrong K_wrap, which
	// must fail the LSK unwrap exactly like a tampered blob.
	other, err := vendorsecret.Generate()
	require.NoError(t, err)
	_, err = client.AcceptSecret(other, artifacts.LskSalt, artifacts.EncryptedLskForVendor)
	require.ErrorIs(t, err, envelope.ErrAuthTag)
}

func TestNewWatermarkReferenceIsUUIDv4(t *testing.T) {
	ref := client.NewWatermarkReference()
	parsed, err := uuid.Parse(ref)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(4), parsed.Version())
}
