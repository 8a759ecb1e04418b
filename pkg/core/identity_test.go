package core

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"vaultgate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHash 生成合法的 64 位 hex
func mockHash(input string) types.Hash {
	sum := sha256.Sum256([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

func TestNewIdentity_DetectedType(t *testing.T) {
	h := mockHash("hello world")
	id, err := NewIdentity(IdentityInput{
		Primary:      types.SHA256,
		Digests:      map[types.Algorithm]types.Hash{types.SHA256: h},
		Size:         11,
		Name:         "../../etc/hello.txt",
		DetectedType: "text/plain",
		Extension:    ".txt",
		DeclaredType: "image/png",
	})
	require.NoError(t, err)

	assert.Equal(t, h.String(), id.ID, "ID 必须是 primary 摘要")
	assert.Equal(t, "hello.txt", id.Name, "目录部分应被丢弃")
	assert.Equal(t, "text/plain", id.DeclaredType, "检测结果优先于调用方声明")
	assert.True(t, id.TypeDetected)
	assert.Equal(t, map[types.Algorithm]string{types.SHA256: h.String()}, id.Hashes)
}

func TestNewIdentity_FallbackType(t *testing.T) {
	h := mockHash("x")
	id, err := NewIdentity(IdentityInput{
		Primary:      types.SHA256,
		Digests:      map[types.Algorithm]types.Hash{types.SHA256: h},
		DeclaredType: "Application/PDF; charset=binary",
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", id.DeclaredType)
	assert.False(t, id.TypeDetected)

	id, err = NewIdentity(IdentityInput{
		Primary: types.SHA256,
		Digests: map[types.Algorithm]types.Hash{types.SHA256: h},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultContentType, id.DeclaredType)
}

func TestNewIdentity_MissingPrimary(t *testing.T) {
	_, err := NewIdentity(IdentityInput{
		Primary: types.SHA256,
		Digests: map[types.Algorithm]types.Hash{types.BLAKE3: mockHash("x")},
	})
	assert.Error(t, err)
}

func TestDocument_And_CBOR(t *testing.T) {
	orig := ContentIdentity{
		ID:           mockHash("doc").String(),
		Name:         "a.bin",
		Size:         42,
		DeclaredType: DefaultContentType,
		Hashes:       map[types.Algorithm]string{types.SHA256: mockHash("doc").String()},
	}

	doc, err := orig.MarshalDocument()
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"declared_type"`)
	fromDoc, err := UnmarshalDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, orig, fromDoc)

	enc1, err := EncodeIdentity(orig)
	require.NoError(t, err)
	enc2, err := EncodeIdentity(fromDoc)
	require.NoError(t, err)
	assert.Equal(t, enc1, enc2, "Canonical CBOR 必须是确定性的")

	fromCBOR, err := DecodeIdentity(enc1)
	require.NoError(t, err)
	assert.Equal(t, orig, fromCBOR)
}

func TestUnmarshalDocument_Corrupted(t *testing.T) {
	_, err := UnmarshalDocument([]byte("{not json"))
	assert.Error(t, err)

	_, err = UnmarshalDocument([]byte(`{"size": 1}`))
	assert.Error(t, err, "缺少 id 的文档视为损坏")
}

func TestKeys(t *testing.T) {
	id := "aabbccdd"
	assert.Equal(t, "aa/bbccdd", PayloadKey(id))
	assert.Equal(t, "aa/bbccdd.meta", MetadataKey(id))
	assert.Equal(t, id, IDFromKey(PayloadKey(id)))
	assert.Equal(t, id, IDFromKey(MetadataKey(id)))
	assert.Equal(t, "a", PayloadKey("a"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "", SanitizeName("  "))
	assert.Equal(t, "", SanitizeName(".."))
	assert.Equal(t, "evil.exe", SanitizeName(`C:\temp\evil.exe`))
	assert.Equal(t, "report.pdf", SanitizeName("report.pdf"))
}
