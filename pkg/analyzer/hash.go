package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"time"

	"vaultgate/pkg/errs"
	"vaultgate/pkg/types"

	"lukechampine.com/blake3"
)

// HashComputer 把字节流同时喂给一个或多个增量摘要函数，从不把整个 payload 读进内存
type HashComputer struct {
	algorithms types.AlgorithmSet
}

func NewHashComputer(set types.AlgorithmSet) (*HashComputer, error) {
	if len(set) == 0 {
		set = types.AlgorithmSet{types.SHA256}
	}
	for _, a := range set {
		if !a.IsValid() {
			return nil, fmt.Errorf("unsupported hash algorithm %q", a)
		}
	}
	return &HashComputer{algorithms: set}, nil
}

func (h *HashComputer) Kind() Kind { return KindHash }

func (h *HashComputer) Analyze(ctx context.Context, r io.Reader) Result {
	start := time.Now()

	hashers := make(map[types.Algorithm]hash.Hash, len(h.algorithms))
	writers := make([]io.Writer, 0, len(h.algorithms))
	for _, a := range h.algorithms {
		hh := newHasher(a)
		hashers[a] = hh
		writers = append(writers, hh)
	}

	n, err := io.Copy(io.MultiWriter(writers...), r)
	if err != nil {
		res := Failed(KindHash, err, errs.SourceRead)
		res.Duration = time.Since(start)
		return res
	}

	digests := make(map[types.Algorithm]types.Hash, len(hashers))
	for a, hh := range hashers {
		digests[a] = types.Hash(hex.EncodeToString(hh.Sum(nil)))
	}
	return Result{Kind: KindHash, Digests: digests, Size: n, Duration: time.Since(start)}
}

func newHasher(a types.Algorithm) hash.Hash {
	switch a {
	case types.BLAKE3:
		return blake3.New(32, nil)
	default:
		return sha256.New()
	}
}
