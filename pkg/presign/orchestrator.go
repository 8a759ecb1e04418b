// Package presign 是 URL 导入的入口：先把远程地址解析成 ByteSource，
// 再走同一条 分析 → gate → 提交 流水线 (不做类型嗅探)
package presign

import (
	"context"
	"time"

	"vaultgate/pkg/errs"
	"vaultgate/pkg/ingest"
	"vaultgate/pkg/logger"
	"vaultgate/pkg/source"
	"vaultgate/pkg/types"
)

// Request 二选一：Locator 或 Source
type Request struct {
	Locator string
	Source  *source.ByteSource

	// Timeout 覆盖整个远程下载；0 使用 Fetcher 的默认值
	Timeout      time.Duration
	Algorithms   []types.Algorithm
	SkipScan     bool
	ExpectedHash string
	// URLTTL > 0 时在结果中附带一个限时下载链接
	URLTTL time.Duration
}

type Result struct {
	ingest.Result
	URL string
}

type Orchestrator struct {
	pipeline *ingest.Pipeline
	fetcher  *source.Fetcher
}

func New(pipeline *ingest.Pipeline, fetcher *source.Fetcher) *Orchestrator {
	if fetcher == nil {
		fetcher = source.NewFetcher(nil, 0)
	}
	return &Orchestrator{pipeline: pipeline, fetcher: fetcher}
}

func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	src := req.Source
	switch {
	case src != nil && req.Locator != "":
		src.Close()
		return Result{}, errs.New(errs.InvalidRequest, "locator and source are mutually exclusive")
	case src == nil && req.Locator == "":
		return Result{}, errs.New(errs.InvalidRequest, "locator or source is required")
	}

	if src == nil {
		// 1. 快速拒绝：非法 locator 不会产生任何网络 I/O
		if _, err := source.ValidateLocator(req.Locator); err != nil {
			return Result{}, err
		}
		var err error
		src, err = o.fetcher.Fetch(ctx, req.Locator, req.Timeout)
		if err != nil {
			return Result{}, err
		}
	}

	// 2. Fetch 的超时已经绑定在 body 上；流一旦开始就不再单独取消某个分支
	res, err := o.pipeline.Ingest(ctx, src, ingest.Options{
		ExpectedHash:    req.ExpectedHash,
		SkipScan:        req.SkipScan,
		SkipTypeSniff:   true,
		ExtraAlgorithms: req.Algorithms,
	})
	out := Result{Result: res}
	if err != nil {
		return out, err
	}

	if req.URLTTL > 0 {
		u, err := o.pipeline.RetrievePayloadURL(ctx, res.ID, req.URLTTL)
		if err != nil {
			// 内容已经提交成功，签名失败不影响结果
			logger.FromContext(ctx).Warn("presign after ingest failed", "id", res.ID, "error", err)
		} else {
			out.URL = u
		}
	}
	return out, nil
}
