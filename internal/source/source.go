// Package source defines the repository-content contract: listing the
// supported text files of a repository, already filtered to known extensions
// and non-vendor paths.
package source

import (
	"context"
	"path/filepath"
	"strings"
)

// File is one candidate file of a repository.
type File struct {
	Path     string
	Content  string
	Language string
}

// Lister fetches the candidate files of a repository. Implementations filter
// to supported extensions and skip vendor directories; owner and repo are
// ignored by sources bound to a fixed location.
type Lister interface {
	ListSupportedFiles(ctx context.Context, owner, repo string) ([]File, error)
}

// Files larger than this are skipped outright.
const MaxFileSize = 500_000

// supportedExtensions maps file extensions to a best-effort language tag.
var supportedExtensions = map[string]string{
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".java":  "java",
	".go":    "go",
	".rs":    "rust",
	".cpp":   "cpp",
	".c":     "c",
	".h":     "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".md":    "markdown",
	".sh":    "shell",
	".sql":   "sql",
	".css":   "css",
	".html":  "html",
}

var ignoredPaths = []string{
	"node_modules", ".git", "dist", "build", ".next", "out",
	"venv", ".venv", "vendor", "__pycache__", ".vscode", ".idea",
}

// LanguageForPath returns the language tag for a file path and whether its
// extension is supported.
func LanguageForPath(path string) (string, bool) {
	lang, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// Ignored reports whether a slash-separated repository path sits under a
// vendor or tooling directory.
func Ignored(path string) bool {
	for _, dir := range ignoredPaths {
		if strings.HasPrefix(path, dir+"/") || strings.Contains(path, "/"+dir+"/") {
			return true
		}
	}
	return false
}

// IgnoredDir reports whether a directory name is a vendor or tooling
// directory that should not be descended into.
func IgnoredDir(name string) bool {
	for _, dir := range ignoredPaths {
		if name == dir {
			return true
		}
	}
	return false
}
