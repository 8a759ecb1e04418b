package scan

import (
	"context"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"vaultgate/pkg/errs"

	"github.com/dutchcoders/go-clamd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFound(t *testing.T) {
	out := "stream: Eicar-Test-Signature FOUND\n/tmp/x: Win.Trojan.Agent-1 FOUND\nstream: OK\n"
	assert.Equal(t, []string{"Eicar-Test-Signature", "Win.Trojan.Agent-1"}, ParseFound(out))
	assert.Empty(t, ParseFound("stream: OK\n"))
}

func TestCollect_Results(t *testing.T) {
	feed := func(rs ...*clamd.ScanResult) chan *clamd.ScanResult {
		ch := make(chan *clamd.ScanResult, len(rs))
		for _, r := range rs {
			ch <- r
		}
		close(ch)
		return ch
	}

	v, err := collect(feed(&clamd.ScanResult{Raw: "stream: OK", Status: clamd.RES_OK}))
	require.NoError(t, err)
	assert.False(t, v.Infected)

	v, err = collect(feed(&clamd.ScanResult{
		Raw: "stream: Eicar-Test-Signature FOUND", Status: clamd.RES_FOUND, Description: "Eicar-Test-Signature",
	}))
	require.NoError(t, err)
	assert.True(t, v.Infected)
	assert.Equal(t, []string{"Eicar-Test-Signature"}, v.Signatures)

	_, err = collect(feed(&clamd.ScanResult{Raw: "INSTREAM size limit exceeded. ERROR", Status: clamd.RES_ERROR}))
	assert.Error(t, err)

	_, err = collect(feed())
	assert.Error(t, err)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommand_Clean(t *testing.T) {
	requireShell(t)
	c := NewCommand("sh", "-c", "cat >/dev/null; echo 'stream: OK'")
	v, err := c.Scan(context.Background(), strings.NewReader("payload"))
	require.NoError(t, err)
	assert.False(t, v.Infected)
}

func TestCommand_Infected(t *testing.T) {
	requireShell(t)
	c := NewCommand("sh", "-c", "cat >/dev/null; echo 'stream: Eicar-Test-Signature FOUND'; exit 1")
	v, err := c.Scan(context.Background(), strings.NewReader("X5O!P%@AP"))
	require.NoError(t, err)
	assert.True(t, v.Infected)
	assert.Equal(t, []string{"Eicar-Test-Signature"}, v.Signatures)
}

func TestCommand_EngineError(t *testing.T) {
	requireShell(t)
	c := NewCommand("sh", "-c", "cat >/dev/null; echo 'cannot connect to clamd' >&2; exit 2")
	_, err := c.Scan(context.Background(), strings.NewReader("payload"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.ScanUnavailable))
}

func TestCommand_Timeout(t *testing.T) {
	requireShell(t)
	c := NewCommand("sh", "-c", "exec sleep 10")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Scan(ctx, strings.NewReader(""))
	assert.True(t, errs.IsKind(err, errs.ScanUnavailable))
}

func TestCommand_MissingBinary(t *testing.T) {
	c := NewCommand("vaultgate-no-such-scanner")
	assert.True(t, errs.IsKind(c.Ping(context.Background()), errs.ScanUnavailable))
	_, err := c.Scan(context.Background(), strings.NewReader("x"))
	assert.True(t, errs.IsKind(err, errs.ScanUnavailable))
}

func TestClamd_Unreachable(t *testing.T) {
	// 找一个空闲端口再关掉，保证连接被拒绝
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := NewClamd("tcp://" + addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.True(t, errs.IsKind(c.Ping(ctx), errs.ScanUnavailable))
	_, err = c.Scan(ctx, strings.NewReader("payload"))
	assert.True(t, errs.IsKind(err, errs.ScanUnavailable))
}

// 需要本地 clamd：docker run -p 3310:3310 clamav/clamav
func TestClamd_Integration(t *testing.T) {
	conn, err := net.DialTimeout("tcp", "localhost:3310", 200*time.Millisecond)
	if err != nil {
		t.Skip("clamd not running on localhost:3310")
	}
	conn.Close()

	c := NewClamd("")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Ping(ctx))

	v, err := c.Scan(ctx, strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.False(t, v.Infected)

	eicar := `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`
	v, err = c.Scan(ctx, strings.NewReader(eicar))
	require.NoError(t, err)
	assert.True(t, v.Infected)
	assert.NotEmpty(t, v.Signatures)
}
