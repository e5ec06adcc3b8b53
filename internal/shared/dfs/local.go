package dfs

import (
	"context"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Local enumerates files on the local filesystem.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Glob(ctx context.Context, patterns []string) ([]FileInfo, error) {
	var files []FileInfo
	for _, pattern := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, name := range matches {
			info, err := os.Lstat(name)
			if err != nil {
				continue
			}
			if info.Mode().IsRegular() {
				files = append(files, FileInfo{Path: name, Size: info.Size()})
			}
		}
	}
	return files, nil
}

func (l *Local) Close() error {
	return nil
}
