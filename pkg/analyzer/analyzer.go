// Package analyzer 定义在同一字节流上并发运行的三种分析器
// 分析器的失败以数据 (Result.Err) 的形式返回，永远不会跨越汇合点 panic 或中断兄弟分支
package analyzer

import (
	"context"
	"io"
	"time"

	"vaultgate/pkg/errs"
	"vaultgate/pkg/types"
)

type Kind string

const (
	KindHash Kind = "hash"
	KindType Kind = "type"
	KindScan Kind = "scan"
)

// Analyzer 是所有分析器的公共能力接口
type Analyzer interface {
	Kind() Kind
	// Analyze 消费一个分支，返回且只返回一个结果
	Analyze(ctx context.Context, r io.Reader) Result
}

// TypeInfo 是内容嗅探的结果
type TypeInfo struct {
	Mime      string
	Extension string
}

// Verdict 是扫描引擎的结论
type Verdict struct {
	Infected      bool     `json:"infected"`
	Signatures    []string `json:"signatures,omitempty"`
	EngineVersion string   `json:"engine_version,omitempty"`
	Raw           string   `json:"-"`
}

// Result 是单个分支的结果；按 Kind 只有对应字段有值
type Result struct {
	Kind     Kind
	Err      error
	Duration time.Duration

	// hash
	Digests map[types.Algorithm]types.Hash
	Size    int64

	// type
	Type *TypeInfo

	// scan
	Verdict *Verdict
}

func (r Result) OK() bool { return r.Err == nil }

// Failed 构造失败结果；非 errs 错误统一归为 fallback 类别
func Failed(kind Kind, err error, fallback errs.Kind) Result {
	if _, ok := errs.As(err); !ok {
		err = errs.Wrap(fallback, err, string(kind)+" analyzer failed")
	}
	return Result{Kind: kind, Err: err}
}

// Settled 是汇合点之后收集到的全部结果
// 未运行 (被配置跳过) 的分析器对应的指针为 nil
type Settled struct {
	Hash *Result
	Type *Result
	Scan *Result
}

// Collect 按 Kind 归档结果
func Collect(results ...Result) Settled {
	var s Settled
	for i := range results {
		r := results[i]
		switch r.Kind {
		case KindHash:
			s.Hash = &r
		case KindType:
			s.Type = &r
		case KindScan:
			s.Scan = &r
		}
	}
	return s
}
