// Package report writes run artifacts as JSON files and optionally mirrors
// them to S3.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/config"
	"github.com/sells-group/cbdata/internal/resilience"
)

// Artifact file names.
const (
	QualityFile      = "quality_report.json"
	SourceStatusFile = "source_status_report.json"
	CollectionFile   = "collection_report.json"
)

// Uploader is the subset of the S3 client used for mirroring.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Writer replaces artifact files under a directory.
type Writer struct {
	dir    string
	s3     Uploader
	bucket string
	prefix string
	retry  resilience.RetryConfig
}

// NewWriter creates a Writer for dir.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir, retry: resilience.DefaultRetryConfig()}
}

// WithMirror uploads every written artifact to bucket under prefix.
func (w *Writer) WithMirror(u Uploader, bucket, prefix string) *Writer {
	w.s3 = u
	w.bucket = bucket
	w.prefix = prefix
	return w
}

// FromConfig builds a Writer, attaching an S3 mirror when a bucket is set.
func FromConfig(ctx context.Context, cfg config.ReportConfig) (*Writer, error) {
	w := NewWriter(cfg.Dir)
	if cfg.S3Bucket == "" {
		return w, nil
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return w.WithMirror(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// NewS3Client creates an S3 client from the default AWS credential chain.
// A custom endpoint switches to path-style addressing for MinIO and similar.
func NewS3Client(ctx context.Context, cfg config.ReportConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, eris.Wrap(err, "report: load aws config")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Write serializes v as indented JSON and atomically replaces name in the
// output directory. Mirror failures are logged and do not fail the write.
func (w *Writer) Write(ctx context.Context, name string, v any) (string, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", eris.Wrapf(err, "report: marshal %s", name)
	}
	body = append(body, '\n')

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create dir %s", w.dir)
	}
	dest := filepath.Join(w.dir, name)
	if err := writeAtomic(dest, body); err != nil {
		return "", err
	}
	zap.L().Info("report written",
		zap.String("component", "report"),
		zap.String("path", dest),
		zap.Int("bytes", len(body)),
	)

	if w.s3 != nil {
		if err := w.mirror(ctx, name, body); err != nil {
			zap.L().Error("report mirror failed",
				zap.String("component", "report"),
				zap.String("bucket", w.bucket),
				zap.String("name", name),
				zap.Error(err),
			)
		}
	}
	return dest, nil
}

func (w *Writer) mirror(ctx context.Context, name string, body []byte) error {
	key := path.Join(w.prefix, name)
	return resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		_, err := w.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return resilience.NewTransientError(eris.Wrapf(err, "report: put s3://%s/%s", w.bucket, key), 0)
		}
		return nil
	})
}

func writeAtomic(dest string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "report: create temp for %s", dest)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(body); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "report: write %s", dest)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "report: close %s", dest)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return eris.Wrapf(err, "report: replace %s", dest)
	}
	return nil
}
