package authkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_DefaultLength(t *testing.T) {
	k, err := Generate(0)
	require.NoError(t, err)
	assert.Len(t, k, defaultLength)
	assert.True(t, Validate(k))
}

func TestGenerate_ExcludesAmbiguousCharacters(t *testing.T) {
	k, err := Generate(500)
	require.NoError(t, err)
	for _, c := range "0O1lI" {
		assert.NotContains(t, k, string(c))
	}
}

func TestGenerateMany_Unique(t *testing.T) {
	keys, err := GenerateMany(10, 32)
	require.NoError(t, err)
	require.Len(t, keys, 10)
	seen := map[string]bool{}
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key generated")
		seen[k] = true
	}
}

func TestValidate_RejectsShortKey(t *testing.T) {
	assert.False(t, Validate("tooshort"))
}

func TestValidate_RejectsBadCharset(t *testing.T) {
	assert.False(t, Validate("!!!!!!!!!!!!!!!!!!!!"))
}
