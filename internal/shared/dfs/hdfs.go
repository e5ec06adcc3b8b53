package dfs

import (
	"context"
	"net"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/colinmarc/hdfs/v2"
)

// HDFS enumerates files on a Hadoop filesystem.
type HDFS struct {
	client *hdfs.Client
}

func NewHDFS(addr Address) (*HDFS, error) {
	port := addr.Port
	if port == "" {
		port = "8020"
	}
	client, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: []string{net.JoinHostPort(addr.Host, port)},
		User:      addr.User,
	})
	if err != nil {
		return nil, err
	}
	return &HDFS{client: client}, nil
}

func (h *HDFS) Glob(ctx context.Context, patterns []string) ([]FileInfo, error) {
	var files []FileInfo
	for _, pattern := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := h.glob(pattern)
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}

func (h *HDFS) glob(pattern string) ([]FileInfo, error) {
	if !hasMeta(pattern) {
		info, err := h.client.Stat(pattern)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		if info.Mode().IsRegular() {
			return []FileInfo{{Path: pattern, Size: info.Size()}}, nil
		}
		return nil, nil
	}

	var files []FileInfo
	root := metaFreeRoot(pattern)
	err := h.client.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		ok, merr := doublestar.Match(pattern, p)
		if merr != nil {
			return merr
		}
		if ok {
			files = append(files, FileInfo{Path: p, Size: info.Size()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (h *HDFS) Close() error {
	return h.client.Close()
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// metaFreeRoot returns the deepest directory prefix of pattern that contains
// no glob metacharacters.
func metaFreeRoot(pattern string) string {
	dir := pattern
	for hasMeta(dir) {
		parent := path.Dir(dir)
		if parent == dir {
			return "/"
		}
		dir = parent
	}
	if dir == "" {
		return "/"
	}
	return dir
}
