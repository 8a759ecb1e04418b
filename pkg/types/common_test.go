package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm(" SHA256 ")
	require.NoError(t, err)
	assert.Equal(t, SHA256, a)

	a, err = ParseAlgorithm("blake3")
	require.NoError(t, err)
	assert.Equal(t, BLAKE3, a)

	_, err = ParseAlgorithm("md5")
	assert.Error(t, err)
}

func TestParseHash(t *testing.T) {
	valid := "B94D27B9934D3E08A52E52D7DA7DABFAC484EFE37A5380EE9088F7ACE2EFCDE9"

	h, err := ParseHash(SHA256, valid)
	require.NoError(t, err)
	assert.Equal(t, Hash("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"), h, "should be lowercased")

	_, err = ParseHash(SHA256, "abcd")
	assert.Error(t, err, "short digest")

	_, err = ParseHash(SHA256, "zz4d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9")
	assert.Error(t, err, "non-hex digest")
}

func TestAlgorithmSet_With(t *testing.T) {
	set := AlgorithmSet{SHA256}.With(BLAKE3, SHA256, BLAKE3)
	assert.Equal(t, AlgorithmSet{SHA256, BLAKE3}, set)
	assert.Equal(t, SHA256, set.Primary())

	var empty AlgorithmSet
	assert.Equal(t, SHA256, empty.Primary())
	// 请求追加的算法不能顶替 primary
	assert.Equal(t, AlgorithmSet{SHA256, BLAKE3}, empty.With(BLAKE3))
}
