package scan

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"vaultgate/pkg/analyzer"
	"vaultgate/pkg/errs"
)

const DefaultCommand = "clamdscan"

// Command 把字节流通过 stdin 交给本地扫描程序 (clamdscan / clamscan 风格)
// 退出码约定：0 干净，1 发现病毒，其他视为引擎不可用
type Command struct {
	path string
	args []string
}

func NewCommand(path string, args ...string) *Command {
	if path == "" {
		path = DefaultCommand
	}
	if len(args) == 0 {
		args = []string{"--no-summary", "-"}
	}
	return &Command{path: path, args: args}
}

func (c *Command) Ping(ctx context.Context) error {
	if _, err := exec.LookPath(c.path); err != nil {
		return errs.Wrap(errs.ScanUnavailable, err, "scan command not found")
	}
	return nil
}

func (c *Command) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, c.path, "--version").Output()
	if err != nil {
		return "", errs.Wrap(errs.ScanUnavailable, err, "scan command version failed")
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Command) Scan(ctx context.Context, r io.Reader) (analyzer.Verdict, error) {
	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Stdin = r
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	raw := stdout.String()
	if err == nil {
		return analyzer.Verdict{Raw: raw}, nil
	}
	if ctx.Err() != nil {
		return analyzer.Verdict{}, errs.Wrap(errs.ScanUnavailable, ctx.Err(), "scan command timed out")
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		sigs := ParseFound(raw)
		if len(sigs) == 0 {
			return analyzer.Verdict{}, errs.New(errs.ScanUnavailable, "scan command reported infection without signature")
		}
		return analyzer.Verdict{Infected: true, Signatures: sigs, Raw: raw}, nil
	}
	return analyzer.Verdict{}, errs.Wrap(errs.ScanUnavailable,
		fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())), "scan command failed")
}

// ParseFound 解析 "stream: Eicar-Signature FOUND" 形式的输出行
func ParseFound(out string) []string {
	var sigs []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		line = strings.TrimSuffix(line, " FOUND")
		if i := strings.LastIndex(line, ": "); i >= 0 {
			line = line[i+2:]
		}
		if line != "" {
			sigs = append(sigs, line)
		}
	}
	return sigs
}
