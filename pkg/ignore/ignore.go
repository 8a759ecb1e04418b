// Package ignore 决定 vg push <dir> 时哪些文件不上传
package ignore

import (
	"io/fs"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 是用户自定义规则文件，语法同 .gitignore
const FileName = ".vaultignore"

// 强制生效的默认规则，用户文件不能取消
var defaultRules = []string{
	".git",
	".vaultgate", // 本地配置和对象目录

	// 凭证
	"config.yaml",
	".env",

	".DS_Store",
	"Thumbs.db",
}

type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 在 rootPath 下查找 .vaultignore，与默认规则合并编译
func NewMatcher(rootPath string) (*Matcher, error) {
	ignoreFilePath := filepath.Join(rootPath, FileName)
	if _, err := os.Stat(ignoreFilePath); err != nil {
		return &Matcher{ignorer: gitignore.CompileIgnoreLines(defaultRules...)}, nil
	}
	ignorer, err := gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
	if err != nil {
		return nil, err
	}
	return &Matcher{ignorer: ignorer}, nil
}

// Matches 的 path 是相对 root 的路径 (例如 "data/model.bin")
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(filepath.ToSlash(path))
}

// Files 返回 root 下所有未被忽略的普通文件 (相对 root 的路径，按字典序)
// root 是单个文件时直接返回它自己
func (m *Matcher) Files(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		if m.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && d.Name() != FileName {
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}
