// Package push uploads a dump directory to an object storage backend so a
// snapshot can be shared or archived off the machine that produced it.
package push

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ndm-tool/ndm/internal/cryptoutil"
	"github.com/ndm-tool/ndm/internal/storage"
	"github.com/ndm-tool/ndm/internal/util"
)

const (
	uploadAttempts = 3
	uploadBackoff  = 500 * time.Millisecond
)

// Text formats get an explicit utf-8 charset so browsers render dump files
// correctly when served straight from the bucket.
var contentTypes = map[string]string{
	".md":   "text/markdown; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".xml":  "application/xml; charset=utf-8",
	".csv":  "text/csv; charset=utf-8",
	".yaml": "text/yaml; charset=utf-8",
	".yml":  "text/yaml; charset=utf-8",
}

// ContentType resolves the upload content type for a file name.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if strings.HasPrefix(ct, "text/") && !strings.Contains(ct, "charset") {
			return ct + "; charset=utf-8"
		}
		return ct
	}
	return "application/octet-stream"
}

type Pusher struct {
	Store        storage.Storage
	Prefix       string
	Key          []byte // optional; enables client-side encryption
	Concurrency  int
	SkipExisting bool
	Log          zerolog.Logger
}

type Result struct {
	Uploaded int
	Skipped  int
}

// Push walks dir and uploads every regular file, keyed by its path relative
// to dir under Prefix. Uploads run with bounded fan-out; any failure cancels
// the remaining ones.
func (p *Pusher) Push(ctx context.Context, dir string) (*Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat dump directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(name string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{}
	eg, egCtx := errgroup.WithContext(ctx)
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	eg.SetLimit(concurrency)

	uploaded := make([]bool, len(files))
	for i, file := range files {
		eg.Go(func() error {
			rel, err := filepath.Rel(dir, file)
			if err != nil {
				return err
			}
			key := path.Join(p.Prefix, filepath.ToSlash(rel))
			if len(p.Key) > 0 {
				key += ".enc"
			}

			if p.SkipExisting {
				exists, err := p.Store.Exists(egCtx, key)
				if err != nil {
					return err
				}
				if exists {
					p.Log.Debug().Str("key", key).Msg("object exists, skipping")
					return nil
				}
			}

			err = util.Retry(egCtx, uploadAttempts, uploadBackoff, func() error {
				return p.uploadFile(egCtx, file, key)
			})
			if err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			uploaded[i] = true
			p.Log.Info().Str("key", key).Msg("uploaded")
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, ok := range uploaded {
		if ok {
			res.Uploaded++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

func (p *Pusher) uploadFile(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	var reader io.Reader = f
	size := int64(-1)
	contentType := ContentType(file)

	if len(p.Key) > 0 {
		reader, err = cryptoutil.EncryptReader(f, p.Key)
		if err != nil {
			return err
		}
		contentType = "application/octet-stream"
	} else if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	return p.Store.Put(ctx, key, reader, size, contentType)
}
