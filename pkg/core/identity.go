package core

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"vaultgate/pkg/types"
)

const DefaultContentType = "application/octet-stream"

// ContentIdentity 是一次成功校验后得到的不可变元数据
// 它会被序列化为 JSON 写入 "{id}.meta" 对象 (metadata document)
//
// Hashes 中的每个值都必须由本次流水线的 HashComputer 实际计算得出，
// 绝不直接采用调用方提供的值。
type ContentIdentity struct {
	ID           string                     `json:"id" cbor:"1,keyasint"`
	Name         string                     `json:"name,omitempty" cbor:"2,keyasint,omitempty"`
	Size         int64                      `json:"size" cbor:"3,keyasint"`
	DeclaredType string                     `json:"declared_type" cbor:"4,keyasint"`
	Extension    string                     `json:"extension,omitempty" cbor:"5,keyasint,omitempty"`
	TypeDetected bool                       `json:"type_detected" cbor:"6,keyasint"`
	Hashes       map[types.Algorithm]string `json:"hashes" cbor:"7,keyasint"`
}

// IdentityInput 汇总构造 ContentIdentity 所需的、已验证的数据
type IdentityInput struct {
	Primary      types.Algorithm
	Digests      map[types.Algorithm]types.Hash
	Size         int64
	Name         string
	DetectedType string
	Extension    string
	DeclaredType string
}

// NewIdentity 由已计算的摘要构造身份；ID 即 primary 摘要
func NewIdentity(in IdentityInput) (ContentIdentity, error) {
	primary, ok := in.Digests[in.Primary]
	if !ok || primary.IsZero() {
		return ContentIdentity{}, fmt.Errorf("primary digest %s not computed", in.Primary)
	}

	hashes := make(map[types.Algorithm]string, len(in.Digests))
	for alg, h := range in.Digests {
		if h.IsZero() {
			continue
		}
		hashes[alg] = h.String()
	}

	id := ContentIdentity{
		ID:     primary.String(),
		Name:   SanitizeName(in.Name),
		Size:   in.Size,
		Hashes: hashes,
	}

	// 类型检测失败只是提示：回退到调用方声明的类型
	if in.DetectedType != "" {
		id.DeclaredType = in.DetectedType
		id.Extension = in.Extension
		id.TypeDetected = true
	} else {
		id.DeclaredType = NormalizeMime(in.DeclaredType)
		if id.DeclaredType == "" {
			id.DeclaredType = DefaultContentType
		}
	}
	return id, nil
}

// MarshalDocument 生成写入存储的元数据文档
func (c ContentIdentity) MarshalDocument() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

func UnmarshalDocument(data []byte) (ContentIdentity, error) {
	var c ContentIdentity
	if err := json.Unmarshal(data, &c); err != nil {
		return ContentIdentity{}, fmt.Errorf("corrupted metadata document: %w", err)
	}
	if c.ID == "" {
		return ContentIdentity{}, fmt.Errorf("corrupted metadata document: missing id")
	}
	return c, nil
}

// NormalizeMime 统一为小写并去掉参数 ("text/plain; charset=utf-8" -> "text/plain")
func NormalizeMime(raw string) string {
	mime := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

// SanitizeName 只保留文件名本身，丢弃调用方带来的目录部分
func SanitizeName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}
