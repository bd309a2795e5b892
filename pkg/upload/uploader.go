package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/lakegraph/pkg/metrics"
)

// ErrEmptySource is returned when the source directory holds no files
var ErrEmptySource = errors.New("source directory contains no files")

// contentTypes covers data formats missing from most system mime tables
var contentTypes = map[string]string{
	".csv":     "text/csv",
	".parquet": "application/vnd.apache.parquet",
	".json":    "application/json",
	".txt":     "text/plain",
}

// Request describes one directory-to-bucket copy
type Request struct {
	SourceDir string
	Bucket    string
	Prefix    string
	Region    string
}

// Object is a file scheduled for upload
type Object struct {
	Path        string
	Key         string
	Size        int64
	ContentType string
}

// Result summarizes an upload
type Result struct {
	Objects  []Object
	Uploaded int
	Bytes    int64
	DryRun   bool
}

// Options configures an Uploader
type Options struct {
	// Concurrency bounds parallel PutObject calls
	// Default: 8
	Concurrency int

	// DryRun plans the upload without contacting S3
	DryRun bool
}

// Uploader copies a local directory tree into a bucket, keeping relative paths as keys
type Uploader struct {
	factory ClientFactory
	opts    Options
}

// NewUploader creates an uploader that builds clients from factory
func NewUploader(factory ClientFactory, opts Options) *Uploader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Uploader{factory: factory, opts: opts}
}

// Plan lists the files under req.SourceDir with their destination keys, in lexical order.
// Hidden files and directories are skipped.
func Plan(req Request) ([]Object, error) {
	info, err := os.Stat(req.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", req.SourceDir)
	}

	prefix := strings.Trim(req.Prefix, "/")
	var objects []Object
	err = filepath.WalkDir(req.SourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != req.SourceDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(req.SourceDir, p)
		if err != nil {
			return err
		}

		objects = append(objects, Object{
			Path:        p,
			Key:         path.Join(prefix, filepath.ToSlash(rel)),
			Size:        fi.Size(),
			ContentType: contentType(p),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", req.SourceDir, err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySource, req.SourceDir)
	}
	return objects, nil
}

func contentType(p string) string {
	ext := strings.ToLower(filepath.Ext(p))
	if ct, found := contentTypes[ext]; found {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Upload copies every planned object into the bucket. The first failure
// cancels the remaining puts.
func (u *Uploader) Upload(ctx context.Context, req Request) (*Result, error) {
	if req.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	logger := log.FromContext(ctx).WithValues("bucket", req.Bucket, "source", req.SourceDir)

	objects, err := Plan(req)
	if err != nil {
		return nil, err
	}

	result := &Result{Objects: objects, DryRun: u.opts.DryRun}
	if u.opts.DryRun {
		logger.Info("Dry run, skipping upload", "objects", len(objects))
		return result, nil
	}

	client, err := u.factory.S3(ctx, req.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	start := time.Now()
	var uploaded, bytes atomic.Int64

	p := pool.New().
		WithMaxGoroutines(u.opts.Concurrency).
		WithContext(ctx).
		WithCancelOnError()
	for _, obj := range objects {
		p.Go(func(ctx context.Context) error {
			if err := put(ctx, client, req.Bucket, obj); err != nil {
				return fmt.Errorf("failed to upload %s: %w", obj.Key, err)
			}
			uploaded.Add(1)
			bytes.Add(obj.Size)
			logger.V(1).Info("Uploaded object", "key", obj.Key, "size", obj.Size)
			return nil
		})
	}
	err = p.Wait()

	result.Uploaded = int(uploaded.Load())
	result.Bytes = bytes.Load()
	metrics.RecordUpload(result.Uploaded, result.Bytes, time.Since(start).Seconds())

	if err != nil {
		return result, err
	}
	logger.Info("Uploaded assets", "objects", result.Uploaded, "bytes", result.Bytes)
	return result, nil
}

func put(ctx context.Context, client S3API, bucket string, obj Object) error {
	f, err := os.Open(obj.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return client.PutObject(ctx, bucket, obj.Key, f, obj.Size, obj.ContentType)
}
