package vendorsecret_test

import (
	"strings"
	"testing"

	"github.com/chirino/vault-service/internal/vendorsecret"
	"github.com/stretchr/testify/require"
)

func TestGenerateNormalizeRoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		vs, err := vendorsecret.Generate()
		require.NoError(t, err)

		// Display form: five dash-separated groups of four plus the checksum.
		parts := strings.Split(vs, "-")
		require.Len(t, parts, 6)
		for _, p := range parts[:5] {
			require.Len(t, p, 4)
		}
		require.Len(t, parts[5], 1)

		normalized, err := vendorsecret.Normalize(vs)
		require.NoError(t, err)
		require.Len(t, normalized, 21)
	}
}

func TestNormalizeToleratesFormatting(t *testing.T) {
	vs, err := vendorsecret.Generate()
	require.NoError(t, err)
	canonical, err := vendorsecret.Normalize(vs)
	require.NoError(t, err)

	variants := []string{
		strings.ToLower(vs),
		strings.ReplaceAll(vs, "-", " "),
		"  " + vs + "\n",
		strings.ReplaceAll(vs, "-", ""),
	}
	for _, v := range variants {
		got, err := vendorsecret.Normalize(v)
		require.NoError(t, err, "variant %q", v)
		require.Equal(t, canonical, got)
	}
}

func TestNormalizeRejectsMutations(t *testing.T) {
	vs, err := vendorsecret.Generate()
	require.NoError(t, err)
	canonical, err := vendorsecret.Normalize(vs)
	require.NoError(t, err)

	// Changing any single character must fail (one substitution shifts the
	// digit sum by 1..31, so the mod-32 checksum always catches it; changing
	// to a same-value char is a no-op, so pick a replacement with a different
	// digit value).
	for i := 0; i < len(canonical); i++ {
		replacement := byte('0')
		if canonical[i] == '0' {
			replacement = '1'
		}
		mutated := canonical[:i] + string(replacement) + canonical[i+1:]
		_, err := vendorsecret.Normalize(mutated)
		require.Error(t, err, "mutation at %d must fail", i)
	}
}

func TestNormalizeBadFormat(t *testing.T) {
	cases := []string{
		"",
		"AAAA-BBBB",
		strings.Repeat("A", 20),  // too short
		strings.Repeat("A", 22),  // too long
		strings.Repeat("U", 21),  // U is not in the Crockford alphabet
		strings.Repeat("A", 20) + "!",
	}
	for _, c := range cases {
		_, err := vendorsecret.Normalize(c)
		require.ErrorIs(t, err, vendorsecret.ErrBadFormat, "%q", c)
	}
}

func TestNormalizeBadChecksum(t *testing.T) {
	vs, err := vendorsecret.Generate()
	require.NoError(t, err)
	canonical, err := vendorsecret.Normalize(vs)
	require.NoError(t, err)

	// Flip the checksum character to a different alphabet digit.
	last := canonical[20]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	_, err = vendorsecret.Normalize(canonical[:20] + string(replacement))
	require.ErrorIs(t, err, vendorsecret.ErrBadChecksum)
}

func TestToBytes(t *testing.T) {
	vs, err := vendorsecret.Generate()
	require.NoError(t, err)
	canonical, err := vendorsecret.Normalize(vs)
	require.NoError(t, err)

	b1, err := vendorsecret.ToBytes(canonical)
	require.NoError(t, err)
	require.Len(t, b1, 13)

	b2, err := vendorsecret.ToBytes(canonical)
	require.NoError(t, err)
	require.Equal(t, b1, b2)

	// The trailing 4 bits of the 13th byte are padding and always zero.
	require.Zero(t, b1[12]&0x0f)
}
