package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// DirSink saves attachments into a local directory. Existing files are
// never overwritten.
type DirSink struct {
	dir string
}

// NewDirSink creates dir (and parents) if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create downloads directory %s: %w", dir, err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) Save(_ context.Context, att Attachment) error {
	target := filepath.Join(s.dir, stampedName(att))
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("%s: %w", target, ErrObjectExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(target, att.Data, 0o644)
}

// BucketSink saves attachments into an object-storage bucket under a
// fixed prefix. Existing objects are never overwritten.
type BucketSink struct {
	bucket *storage.BucketHandle
	prefix string
}

func NewBucketSink(bucket *storage.BucketHandle, prefix string) *BucketSink {
	return &BucketSink{bucket: bucket, prefix: prefix}
}

func (s *BucketSink) Save(ctx context.Context, att Attachment) error {
	obj := s.bucket.Object(path.Join(s.prefix, stampedName(att)))
	_, err := obj.Attrs(ctx)
	switch {
	case err == nil:
		return fmt.Errorf("%s: %w", obj.ObjectName(), ErrObjectExists)
	case !errors.Is(err, storage.ErrObjectNotExist):
		return fmt.Errorf("check %s: %w", obj.ObjectName(), err)
	}
	w := obj.NewWriter(ctx)
	if _, err := w.Write(att.Data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", obj.ObjectName(), err)
	}
	return w.Close()
}

// stampedName suffixes the filename with the message's send date so
// recurring attachments (monthly invoices and the like) do not collide.
func stampedName(att Attachment) string {
	if att.SentAt.IsZero() {
		return att.Filename
	}
	ext := filepath.Ext(att.Filename)
	base := strings.TrimSuffix(att.Filename, ext)
	return fmt.Sprintf("%s-%s%s", base, att.SentAt.Format("2006-01-02"), ext)
}

var (
	_ Sink = (*DirSink)(nil)
	_ Sink = (*BucketSink)(nil)
)
