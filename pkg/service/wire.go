package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"vaultgate/pkg/analyzer"
	"vaultgate/pkg/core"
	"vaultgate/pkg/presign"
	"vaultgate/pkg/types"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// IngestReply 是 Ingest / Fetch 成功后的响应体
type IngestReply struct {
	ID           string               `json:"id"`
	Identity     core.ContentIdentity `json:"identity"`
	Deduplicated bool                 `json:"deduplicated"`
	Verdict      *analyzer.Verdict    `json:"verdict,omitempty"`
	URL          string               `json:"url,omitempty"`
}

// FetchRequest 是 Fetch 的请求体；时间字段用整数毫秒/秒，避免浮点精度问题
type FetchRequest struct {
	Locator       string   `json:"locator"`
	TimeoutMillis int64    `json:"timeout_ms,omitempty"`
	SkipScan      bool     `json:"skip_scan,omitempty"`
	ExpectedHash  string   `json:"expected_hash,omitempty"`
	Algorithms    []string `json:"algorithms,omitempty"`
	URLTTLSeconds int64    `json:"url_ttl_seconds,omitempty"`
}

type PayloadURLRequest struct {
	ID         string `json:"id"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

func replyFromResult(res presign.Result) IngestReply {
	return IngestReply{
		ID:           res.ID,
		Identity:     res.Identity,
		Deduplicated: res.Deduplicated,
		Verdict:      res.Verdict,
		URL:          res.URL,
	}
}

// ToStruct 经 JSON 把 Go 值转换为 structpb.Struct
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// FromStruct 是 ToStruct 的逆操作
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("empty message")
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ParseAlgorithms 解析 "sha256,blake3" 形式的列表，空串返回 nil
func ParseAlgorithms(list []string) ([]types.Algorithm, error) {
	var out []types.Algorithm
	for _, raw := range list {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			a, err := types.ParseAlgorithm(s)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	}
	return out, nil
}
