// Package scan 提供 analyzer.Engine 的具体实现
package scan

import (
	"context"
	"fmt"
	"io"
	"strings"

	"vaultgate/pkg/analyzer"
	"vaultgate/pkg/errs"

	"github.com/dutchcoders/go-clamd"
)

const DefaultClamdAddress = "tcp://localhost:3310"

// Clamd 通过 INSTREAM 协议把字节流发给 clamd 守护进程
type Clamd struct {
	address string
	client  *clamd.Clamd
}

func NewClamd(address string) *Clamd {
	if address == "" {
		address = DefaultClamdAddress
	}
	return &Clamd{address: address, client: clamd.NewClamd(address)}
}

func (c *Clamd) Address() string { return c.address }

func (c *Clamd) Ping(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.client.Ping() }()
	select {
	case err := <-errCh:
		if err != nil {
			return errs.Wrap(errs.ScanUnavailable, err, "clamd ping failed")
		}
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.ScanUnavailable, ctx.Err(), "clamd ping timed out")
	}
}

func (c *Clamd) Version(ctx context.Context) (string, error) {
	type out struct {
		v   string
		err error
	}
	done := make(chan out, 1)
	go func() {
		ch, err := c.client.Version()
		if err != nil {
			done <- out{err: err}
			return
		}
		var parts []string
		for r := range ch {
			parts = append(parts, strings.TrimSpace(r.Raw))
		}
		done <- out{v: strings.Join(parts, " ")}
	}()
	select {
	case o := <-done:
		if o.err != nil {
			return "", errs.Wrap(errs.ScanUnavailable, o.err, "clamd version failed")
		}
		return o.v, nil
	case <-ctx.Done():
		return "", errs.Wrap(errs.ScanUnavailable, ctx.Err(), "clamd version timed out")
	}
}

// Scan 阻塞直到 clamd 给出结论或 ctx 结束
// ScanStream 本身没有超时，ctx 结束时关闭 abort 以断开连接
func (c *Clamd) Scan(ctx context.Context, r io.Reader) (analyzer.Verdict, error) {
	abort := make(chan bool)
	defer close(abort)

	type out struct {
		v   analyzer.Verdict
		err error
	}
	done := make(chan out, 1)
	go func() {
		ch, err := c.client.ScanStream(r, abort)
		if err != nil {
			done <- out{err: err}
			return
		}
		v, err := collect(ch)
		done <- out{v: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return analyzer.Verdict{}, errs.Wrap(errs.ScanUnavailable, o.err, "clamd scan failed")
		}
		return o.v, nil
	case <-ctx.Done():
		return analyzer.Verdict{}, errs.Wrap(errs.ScanUnavailable, ctx.Err(), "clamd scan timed out")
	}
}

func collect(ch chan *clamd.ScanResult) (analyzer.Verdict, error) {
	var v analyzer.Verdict
	var raws []string
	got := false
	for res := range ch {
		got = true
		raws = append(raws, res.Raw)
		switch res.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			v.Infected = true
			v.Signatures = append(v.Signatures, res.Description)
		default:
			return analyzer.Verdict{}, fmt.Errorf("clamd: %s", strings.TrimSpace(res.Raw))
		}
	}
	if !got {
		return analyzer.Verdict{}, fmt.Errorf("clamd: empty response")
	}
	v.Raw = strings.Join(raws, "\n")
	return v, nil
}
