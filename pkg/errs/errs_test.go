package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := Wrap(RemoteFetchTimeout, io.ErrUnexpectedEOF, "fetch")
	wrapped := fmt.Errorf("pipeline: %w", base)

	assert.Equal(t, RemoteFetchTimeout, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, RemoteFetchTimeout))
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF, "cause must be preserved")
	assert.ErrorIs(t, wrapped, New(RemoteFetchTimeout, ""), "Is matches by kind")
	assert.NotErrorIs(t, wrapped, New(RemoteFetchFailure, ""))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, NotFound))
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(Internal, nil, "nothing"))
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		code string
		want string
	}{
		{"integrity keeps detail", New(HashMismatch, "expected abc got def"), "HASH_MISMATCH", "expected abc got def"},
		{"infected keeps signatures", Infected([]string{"Test.Virus"}), "INFECTED_FILE", "malware detected: [Test.Virus]"},
		{"storage is generic", &Error{Kind: StorageCommitFailure, Msg: "s3 put: dial tcp 10.0.0.1"}, "STORAGE_FAILURE", "storage operation failed"},
		{"scanner is generic", &Error{Kind: ScanUnavailable, Msg: "dial unix /run/clamd.ctl"}, "SCAN_UNAVAILABLE", "malware scanning is temporarily unavailable"},
		{"not found default text", New(NotFound, ""), "NOT_FOUND", "object not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code())
			assert.Equal(t, tt.want, tt.err.PublicMessage())
		})
	}
}

func TestInfected_CopiesSignatures(t *testing.T) {
	sigs := []string{"Test.Virus"}
	e := Infected(sigs)
	sigs[0] = "mutated"

	got, ok := As(fmt.Errorf("wrap: %w", e))
	require.True(t, ok)
	assert.Equal(t, []string{"Test.Virus"}, got.Signatures)
}

func TestKindFromCode(t *testing.T) {
	assert.Equal(t, HashMismatch, KindFromCode("HASH_MISMATCH"))
	assert.Equal(t, InfectedFile, KindFromCode("INFECTED_FILE"))
	assert.Equal(t, StorageCommitFailure, KindFromCode("STORAGE_FAILURE"))
	assert.Equal(t, Internal, KindFromCode("INTERNAL"))
	assert.Equal(t, Internal, KindFromCode("NO_SUCH_CODE"))
}
