package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidMemberNumber(t *testing.T) {
	valid := []string{"KS0000001", "KS1234567", "KS9999999"}
	for _, s := range valid {
		assert.True(t, IsValidMemberNumber(s), s)
	}

	invalid := []string{"", "KS", "KS123456", "KS12345678", "ks0000001", "XX0000001", "KS00000a1", " KS0000001"}
	for _, s := range invalid {
		assert.False(t, IsValidMemberNumber(s), s)
	}
}

func TestFormatMemberNumber(t *testing.T) {
	n, err := FormatMemberNumber(42)
	require.NoError(t, err)
	assert.Equal(t, MemberNumber("KS0000042"), n)

	_, err = FormatMemberNumber(0)
	assert.Error(t, err)
	_, err = FormatMemberNumber(MaxMemberSequence + 1)
	assert.Error(t, err)
}

func TestNextMemberNumber(t *testing.T) {
	t.Run("starts at one without a maximum", func(t *testing.T) {
		n, err := NextMemberNumber("")
		require.NoError(t, err)
		assert.Equal(t, MemberNumber("KS0000001"), n)
	})

	t.Run("increments the maximum and keeps the width", func(t *testing.T) {
		n, err := NextMemberNumber("KS0000099")
		require.NoError(t, err)
		assert.Equal(t, MemberNumber("KS0000100"), n)
	})

	t.Run("unparsable maximum is treated as absent", func(t *testing.T) {
		n, err := NextMemberNumber("KS00x0042")
		require.NoError(t, err)
		assert.Equal(t, MemberNumber("KS0000001"), n)
	})

	t.Run("exhausted sequence fails", func(t *testing.T) {
		_, err := NextMemberNumber("KS9999999")
		assert.Error(t, err)
	})
}
