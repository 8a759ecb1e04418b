// pkg/types/common.go
package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash 代表一个摘要的十六进制字符串 (小写)
// 这是一个“值对象”，应当是不可变的。
type Hash string

func (h Hash) String() string { return string(h) }

func (h Hash) IsZero() bool { return h == "" }

// Bytes 解码为原始摘要字节
func (h Hash) Bytes() ([]byte, error) { return hex.DecodeString(string(h)) }

// Algorithm 标识一种摘要算法
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

func (a Algorithm) String() string { return string(a) }

// Size 返回摘要字节长度 (两种算法目前都是 32 字节)
func (a Algorithm) Size() int {
	switch a {
	case SHA256, BLAKE3:
		return 32
	default:
		return 0
	}
}

func (a Algorithm) IsValid() bool { return a.Size() > 0 }

// ParseAlgorithm 容忍大小写和首尾空白
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("unsupported hash algorithm %q", s)
	}
	return a, nil
}

// ParseHash 校验 hex 格式和长度，并统一为小写
func ParseHash(a Algorithm, s string) (Hash, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != a.Size()*2 {
		return "", fmt.Errorf("%s digest must be %d hex chars, got %d", a, a.Size()*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid hex digest: %w", err)
	}
	return Hash(s), nil
}

// AlgorithmSet 是一次运行要计算的算法集合；第一个元素是 primary
type AlgorithmSet []Algorithm

func (s AlgorithmSet) Primary() Algorithm {
	if len(s) == 0 {
		return SHA256
	}
	return s[0]
}

// With 追加额外算法 (去重，保持 primary 在首位)
// 空集合的 primary 是 SHA256，extra 永远不会成为 primary
func (s AlgorithmSet) With(extra ...Algorithm) AlgorithmSet {
	if len(s) == 0 {
		s = AlgorithmSet{SHA256}
	}
	out := make(AlgorithmSet, 0, len(s)+len(extra))
	seen := make(map[Algorithm]bool, len(s)+len(extra))
	for _, a := range append(append(AlgorithmSet{}, s...), extra...) {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
