package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Defaults(t *testing.T) {
	matcher, err := NewMatcher(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		path     string
		shouldIg bool
	}{
		{".vaultgate", true},
		{".vaultgate/objects/aa", true},
		{".git", true},
		{"config.yaml", true},
		{".env", true},
		{".DS_Store", true},
		{"main.go", false},
		{"data/model.bin", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_WithUserFile(t *testing.T) {
	tmpDir := t.TempDir()
	ignoreContent := `
# 注释
*.log
temp
!important.log
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, FileName), []byte(ignoreContent), 0644))

	matcher, err := NewMatcher(tmpDir)
	require.NoError(t, err)

	tests := []struct {
		path     string
		shouldIg bool
	}{
		// 默认规则依然生效
		{".git", true},
		{"config.yaml", true},

		{"app.log", true},
		{"logs/error.log", true},
		{"temp", true},
		{"temp/file", true},
		{"main.go", false},
		{"important.log", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_Files(t *testing.T) {
	root := t.TempDir()
	write := func(rel string) {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(rel), 0644))
	}
	write("a.bin")
	write("nested/b.txt")
	write("nested/debug.log")
	write(".git/HEAD")
	write(".env")
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("*.log\n"), 0644))

	matcher, err := NewMatcher(root)
	require.NoError(t, err)

	files, err := matcher.Files(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bin", filepath.Join("nested", "b.txt")}, files)

	single, err := matcher.Files(filepath.Join(root, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.bin")}, single)

	_, err = matcher.Files(filepath.Join(root, "missing"))
	assert.Error(t, err)
}
