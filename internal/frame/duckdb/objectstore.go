package duckdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/duckmesh/duckframe/internal/frame"
	"github.com/duckmesh/duckframe/internal/storage"
)

type bucketNamer interface {
	Bucket() string
}

func (e *Engine) objectKey(raw string) (string, error) {
	if e.store == nil {
		return "", fmt.Errorf("object store is not configured for %q", raw)
	}
	if e.workDir == "" {
		return "", fmt.Errorf("engine work dir is required for %q", raw)
	}
	uri, err := storage.ParseObjectURI(raw)
	if err != nil {
		return "", err
	}
	if named, ok := e.store.(bucketNamer); ok && named.Bucket() != uri.Bucket {
		return "", fmt.Errorf("bucket %q is not the configured bucket %q", uri.Bucket, named.Bucket())
	}
	return uri.Key, nil
}

// download copies the object, or every object with the format's extension
// under the key prefix, into the work dir. The files stay until Close since
// views read them lazily.
func (e *Engine) download(ctx context.Context, raw string, format frame.Format) ([]string, error) {
	key, err := e.objectKey(raw)
	if err != nil {
		return nil, err
	}

	var keys []string
	if _, err := e.store.Stat(ctx, key); err == nil {
		keys = []string{key}
	} else if !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("stat %q: %w", raw, err)
	} else {
		objects, err := e.store.List(ctx, key+"/")
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", raw, err)
		}
		for _, object := range objects {
			if strings.EqualFold(path.Ext(object.Key), format.Extension()) {
				keys = append(keys, object.Key)
			}
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no %s objects at %s", storage.ErrObjectNotFound, format, raw)
	}

	dest := filepath.Join(e.workDir, "in-"+uuid.NewString())
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	files := make([]string, 0, len(keys))
	for index, objectKey := range keys {
		local := filepath.Join(dest, fmt.Sprintf("%05d-%s", index, sanitizeFileComponent(path.Base(objectKey))))
		if ext := format.Extension(); !strings.EqualFold(filepath.Ext(local), ext) {
			local += ext
		}
		if err := e.fetch(ctx, objectKey, local); err != nil {
			return nil, err
		}
		files = append(files, local)
	}
	objectsTransferredTotal.WithLabelValues("download").Add(float64(len(files)))
	return files, nil
}

func (e *Engine) fetch(ctx context.Context, key, local string) error {
	reader, err := e.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	if err := writeFile(local, reader); err != nil {
		_ = reader.Close()
		return fmt.Errorf("write local copy of %q: %w", key, err)
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close object %q: %w", key, err)
	}
	return nil
}

// upload writes the relation into a local staging dir and copies the result
// under the key prefix, applying mode against the objects already there.
func (e *Engine) upload(ctx context.Context, h *frame.Handle, raw string, format frame.Format, mode frame.SaveMode) error {
	rel, err := e.lookup(h)
	if err != nil {
		return err
	}
	key, err := e.objectKey(raw)
	if err != nil {
		return err
	}
	prefix := key + "/"

	existing, err := e.store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %q: %w", raw, err)
	}
	if len(existing) > 0 {
		switch mode {
		case frame.SaveModeErrorIfExists:
			return fmt.Errorf("%w: %s", frame.ErrPathExists, raw)
		case frame.SaveModeIgnore:
			e.logWritten(ctx, raw, format, nil)
			return nil
		case frame.SaveModeOverwrite:
			for _, object := range existing {
				if err := e.store.Delete(ctx, object.Key); err != nil {
					return fmt.Errorf("clear %q: %w", raw, err)
				}
			}
		}
	}

	stage := filepath.Join(e.workDir, "out-"+uuid.NewString())
	defer func() { _ = os.RemoveAll(stage) }()
	files, err := e.writeLocal(ctx, h, rel, stage, format, frame.SaveModeOverwrite)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := e.put(ctx, file, prefix+filepath.Base(file)); err != nil {
			return err
		}
	}
	objectsTransferredTotal.WithLabelValues("upload").Add(float64(len(files)))
	e.logWritten(ctx, raw, format, files)
	return nil
}

func (e *Engine) put(ctx context.Context, local, key string) error {
	file, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %q: %w", local, err)
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", local, err)
	}
	opts := storage.PutOptions{ContentType: storage.ContentType(filepath.Ext(local))}
	if _, err := e.store.Put(ctx, key, file, info.Size(), opts); err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}
