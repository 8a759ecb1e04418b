package core

import "strings"

const metaSuffix = ".meta"

// PayloadKey 将 ID 转换为对象存储 Key (Sharding)
// Logic: "aabbcc..." -> "aa/bbcc..."
func PayloadKey(id string) string {
	if len(id) < 2 {
		return id
	}
	return id[:2] + "/" + id[2:]
}

// MetadataKey 与 PayloadKey 一一对应: "aa/bbcc....meta"
func MetadataKey(id string) string {
	return PayloadKey(id) + metaSuffix
}

// IDFromKey 是 PayloadKey / MetadataKey 的逆运算
func IDFromKey(key string) string {
	key = strings.TrimSuffix(key, metaSuffix)
	return strings.Replace(key, "/", "", 1)
}
