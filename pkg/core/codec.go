package core

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// 缓存里存的是 CBOR 而不是 JSON：体积更小，并且 Canonical 编码保证
// 同一个身份永远得到同样的字节
var encOptions = cbor.EncOptions{
	// 强制 Map Key 排序 (Canonical)
	Sort: cbor.SortCanonical,
	// 禁止不定长编码
	IndefLength: cbor.IndefLengthForbidden,
	Time:        cbor.TimeUnix,
	TimeTag:     cbor.EncTagNone,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// 缓存内容来自外部服务，同样要防恶意构造的巨大头部
	MaxArrayElements: 10000,
	MaxMapPairs:      10000,
	MaxNestedLevels:  16,
	IndefLength:      cbor.IndefLengthForbidden,
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
}

var dm, _ = decOptions.DecMode()

// EncodeIdentity 序列化用于缓存的身份
func EncodeIdentity(c ContentIdentity) ([]byte, error) {
	data, err := em.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity: %w", err)
	}
	return data, nil
}

func DecodeIdentity(data []byte) (ContentIdentity, error) {
	var c ContentIdentity
	if err := dm.Unmarshal(data, &c); err != nil {
		return ContentIdentity{}, fmt.Errorf("failed to decode identity: %w", err)
	}
	return c, nil
}
