package source

import (
	"context"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

// Dir serves files from a local checkout, applying the same extension and
// vendor-path filters as the remote source. Owner and repo arguments are
// ignored; the directory is the repository.
type Dir struct {
	Root string
}

// NewDir creates a Dir source rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

// ListSupportedFiles walks the directory and returns every supported,
// non-vendor file small enough to index.
func (d *Dir) ListSupportedFiles(ctx context.Context, _, _ string) ([]File, error) {
	var files []File

	err := godirwalk.Walk(d.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				if IgnoredDir(de.Name()) {
					return filepath.SkipDir
				}
				return nil
			}

			rel, err := filepath.Rel(d.Root, path)
			if err != nil {
				rel = path
			}
			rel = filepath.ToSlash(rel)

			lang, ok := LanguageForPath(rel)
			if !ok || Ignored(rel) {
				return nil
			}

			info, err := os.Stat(path)
			if err != nil || info.Size() == 0 || info.Size() > MaxFileSize {
				return nil
			}

			b, err := os.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}

			files = append(files, File{Path: rel, Content: string(b), Language: lang})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
