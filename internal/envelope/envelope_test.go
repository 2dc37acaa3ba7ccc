package envelope_test

import (
	"bytes"
	"testing"

	"github.com/chirino/vault-service/internal/envelope"
	"github.com/stretchr/testify/require"
)

// Small-but-valid KDF parameters so the suite stays fast; the defaults are
// exercised once in TestDeriveKEKDefaults.
var testParams = envelope.KdfParams{MemoryKiB: 8 * 1024, Time: 1, Parallelism: 1}

func testSalt() []byte {
	salt := make([]byte, envelope.SaltSize)
	for i := range salt {
		salt[i] = byte(i)
	}
	return salt
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := envelope.GenerateKey()
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	blob, nonce, err := envelope.Seal(key, plaintext)
	require.NoError(t, err)
	require.Len(t, nonce, envelope.NonceSize)
	require.Len(t, blob, len(plaintext)+envelope.NonceSize+envelope.TagSize)

	// The nonce is embedded between ciphertext and tag.
	require.Equal(t, nonce, blob[len(plaintext):len(plaintext)+envelope.NonceSize])

	got, err := envelope.Open(key, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenRejectsTampering(t *testing.T) {
	key, err := envelope.GenerateKey()
	require.NoError(t, err)
	blob, _, err := envelope.Seal(key, []byte("sensitive document bytes"))
	require.NoError(t, err)

	// Flipping any single bit anywhere in the blob must fail authentication.
	for _, pos := range []int{0, len(blob) / 2, len(blob) - 1} {
		mutated := append([]byte(nil), blob...)
		mutated[pos] ^= 0x01
		_, err := envelope.Open(key, mutated)
		require.ErrorIs(t, err, envelope.ErrAuthTag, "bit flip at %d must fail", pos)
	}
}

func TestOpenWrongKey(t *testing.T) {
	key1, err := envelope.GenerateKey()
	require.NoError(t, err)
	key2, err := envelope.GenerateKey()
	require.NoError(t, err)

	blob, _, err := envelope.Seal(key1, []byte("abc"))
	require.NoError(t, err)
	_, err = envelope.Open(key2, blob)
	require.ErrorIs(t, err, envelope.ErrAuthTag)
}

func TestOpenMalformedBlob(t *testing.T) {
	key, err := envelope.GenerateKey()
	require.NoError(t, err)
	_, err = envelope.Open(key, make([]byte, envelope.NonceSize+envelope.TagSize-1))
	require.ErrorIs(t, err, envelope.ErrMalformedBlob)
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	outer, err := envelope.GenerateKey()
	require.NoError(t, err)
	inner, err := envelope.GenerateKey()
	require.NoError(t, err)

	blob, nonce, err := envelope.Wrap(outer, inner)
	require.NoError(t, err)
	require.Len(t, blob, envelope.WrapBlobSize)
	require.Len(t, nonce, envelope.NonceSize)

	got, err := envelope.Unwrap(outer, blob)
	require.NoError(t, err)
	require.Equal(t, inner, got)
}

func TestWrapRejectsShortKey(t *testing.T) {
	outer, err := envelope.GenerateKey()
	require.NoError(t, err)
	_, _, err = envelope.Wrap(outer, []byte("short"))
	require.Error(t, err)
}

func TestUnwrapRejectsWrongSize(t *testing.T) {
	outer, err := envelope.GenerateKey()
	require.NoError(t, err)
	_, err = envelope.Unwrap(outer, make([]byte, envelope.WrapBlobSize-1))
	require.ErrorIs(t, err, envelope.ErrMalformedBlob)
}

func TestChecksum(t *testing.T) {
	// SHA-256("abc")
	require.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		envelope.Checksum([]byte("abc")))
}

func TestVendorWrapKeyDeterministic(t *testing.T) {
	ikm := bytes.Repeat([]byte{0x42}, 13)
	salt := testSalt()

	k1, err := envelope.VendorWrapKey(ikm, salt)
	require.NoError(t, err)
	k2, err := envelope.VendorWrapKey(ikm, salt)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.Len(t, k1, envelope.KeySize)

	// A different salt produces an unrelated key.
	otherSalt := testSalt()
	otherSalt[0] ^= 0xff
	k3, err := envelope.VendorWrapKey(ikm, otherSalt)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestDeriveKEKDeterministic(t *testing.T) {
	kek1, err := envelope.DeriveKEK("correcthorsebatterystaple", testSalt(), testParams)
	require.NoError(t, err)
	require.Len(t, kek1, envelope.KeySize)

	kek2, err := envelope.DeriveKEK("correcthorsebatterystaple", testSalt(), testParams)
	require.NoError(t, err)
	require.Equal(t, kek1, kek2)

	kek3, err := envelope.DeriveKEK("wrong password", testSalt(), testParams)
	require.NoError(t, err)
	require.NotEqual(t, kek1, kek3)
}

func TestDeriveKEKDefaults(t *testing.T) {
	if testing.Short() {
		t.Skip("default Argon2id parameters are expensive")
	}
	kek, err := envelope.DeriveKEK("correcthorsebatterystaple", testSalt(), envelope.DefaultKdfParams())
	require.NoError(t, err)
	require.Len(t, kek, envelope.KeySize)
}

func TestKdfParamsValidation(t *testing.T) {
	cases := []envelope.KdfParams{
		{MemoryKiB: 0, Time: 1, Parallelism: 1},
		{MemoryKiB: 2 * 1024 * 1024, Time: 1, Parallelism: 1},
		{MemoryKiB: 65536, Time: 0, Parallelism: 1},
		{MemoryKiB: 65536, Time: 128, Parallelism: 1},
		{MemoryKiB: 65536, Time: 1, Parallelism: 0},
		{MemoryKiB: 65536, Time: 1, Parallelism: 64},
	}
	for _, p := range cases {
		require.ErrorIs(t, p.Validate(), envelope.ErrKdfParams, "%+v", p)
	}
	require.NoError(t, envelope.DefaultKdfParams().Validate())
}

func TestDeriveKEKRejectsBadSalt(t *testing.T) {
	_, err := envelope.DeriveKEK("pw", []byte("short"), testParams)
	require.ErrorIs(t, err, envelope.ErrKdfParams)
}
