// Package gate 在所有分析结果汇合之后做出唯一一次 ACCEPT / REJECT 决定
package gate

import (
	"crypto/subtle"

	"vaultgate/pkg/analyzer"
	"vaultgate/pkg/core"
	"vaultgate/pkg/errs"
	"vaultgate/pkg/types"
)

// Policy 描述一次请求的校验要求
type Policy struct {
	Primary types.Algorithm
	// Expected 为空表示调用方没有提供完整性令牌
	Expected types.Hash
	// SkipScan 为 true 时跳过“扫描不可用”这一步
	SkipScan bool

	Name         string
	DeclaredType string
}

// Outcome 是终态；Accepted 时 Identity 非空，否则 Rejection 非空
type Outcome struct {
	Accepted  bool
	Rejection error
	Identity  *core.ContentIdentity
	Verdict   *analyzer.Verdict
}

func (o Outcome) Kind() errs.Kind { return errs.KindOf(o.Rejection) }

func reject(err error, v *analyzer.Verdict) Outcome {
	return Outcome{Rejection: err, Verdict: v}
}

// Evaluate 按固定优先级检查已经全部 settle 的结果，第一个命中的规则生效：
//
//	0. 摘要分支失败 (上游读错误/超时/超限)      → REJECT(该失败的类别)
//	1. 期望摘要与 primary 摘要不一致           → REJECT(HashMismatch)
//	2. 扫描结论为 infected                     → REJECT(InfectedFile)
//	3. 扫描失败且未显式跳过                    → REJECT(ScanUnavailable)
//	4. 类型未识别                              → ACCEPT，使用声明类型
//	5. 其他                                    → ACCEPT
func Evaluate(p Policy, s analyzer.Settled) Outcome {
	if p.Primary == "" {
		p.Primary = types.SHA256
	}

	var verdict *analyzer.Verdict
	if s.Scan != nil && s.Scan.OK() {
		verdict = s.Scan.Verdict
	}

	// 0
	if s.Hash == nil {
		return reject(errs.New(errs.Internal, "hash analyzer did not run"), verdict)
	}
	if !s.Hash.OK() {
		return reject(s.Hash.Err, verdict)
	}
	computed, ok := s.Hash.Digests[p.Primary]
	if !ok || computed.IsZero() {
		return reject(errs.Newf(errs.Internal, "primary digest %s not computed", p.Primary), verdict)
	}

	// 1
	if !p.Expected.IsZero() && !equalDigest(computed, p.Expected) {
		return reject(errs.Newf(errs.HashMismatch, "expected %s %s, computed %s", p.Primary, p.Expected, computed), verdict)
	}

	// 2
	if verdict != nil && verdict.Infected {
		return reject(errs.Infected(verdict.Signatures), verdict)
	}

	// 3
	if !p.SkipScan {
		switch {
		case s.Scan == nil:
			return reject(errs.New(errs.ScanUnavailable, "no scanning engine available"), nil)
		case !s.Scan.OK():
			return reject(errs.Wrap(errs.ScanUnavailable, s.Scan.Err, "malware scan did not complete"), nil)
		case verdict == nil:
			return reject(errs.New(errs.ScanUnavailable, "malware scan returned no verdict"), nil)
		}
	}

	// 4 / 5
	in := core.IdentityInput{
		Primary:      p.Primary,
		Digests:      s.Hash.Digests,
		Size:         s.Hash.Size,
		Name:         p.Name,
		DeclaredType: p.DeclaredType,
	}
	if s.Type != nil && s.Type.OK() && s.Type.Type != nil {
		in.DetectedType = s.Type.Type.Mime
		in.Extension = s.Type.Type.Extension
	}
	id, err := core.NewIdentity(in)
	if err != nil {
		return reject(errs.Wrap(errs.Internal, err, "build content identity"), verdict)
	}
	return Outcome{Accepted: true, Identity: &id, Verdict: verdict}
}

// equalDigest 按字节比较；两边都已经是规范化的小写 hex
func equalDigest(a, b types.Hash) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
