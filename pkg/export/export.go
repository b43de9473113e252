// Package export writes query results to files and object storage.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/config"
	"github.com/nnnkkk7/duckbench/pkg/query"
)

// Export errors.
var (
	ErrNoBatch          = errors.New("no result to export")
	ErrNoDestination    = errors.New("export destination is empty")
	ErrS3NotConfigured  = errors.New("s3 destination requested but no uploader is configured")
	ErrInvalidS3URL     = errors.New("invalid s3 url, expected s3://bucket/key")
	ErrUnknownExtension = errors.New("cannot infer export format from extension")
)

const s3Scheme = "s3://"

// Options selects the output format, compression and destination.
type Options struct {
	Format      string
	Compression string
	// Level is the compression level; 0 uses the compressor default.
	Level int
	// Destination is a local path or s3://bucket/key.
	Destination string
}

// Artifact is an encoded result ready to be stored or served.
type Artifact struct {
	Data        []byte
	Extension   string
	ContentType string
	Rows        int
}

// Result describes a completed export.
type Result struct {
	Destination string `json:"destination"`
	Format      string `json:"format"`
	Compression string `json:"compression"`
	Rows        int    `json:"rows"`
	Bytes       int    `json:"bytes"`
}

// InferOptions derives format and compression from the destination's
// extensions, e.g. "out.csv.zst" is CSV compressed with zstd. Unknown
// extensions are an error; a path without extension defaults to CSV.
func InferOptions(destination string) (Options, error) {
	opts := Options{Destination: destination, Compression: CompressionNone}

	name := strings.ToLower(filepath.Base(destination))
	switch filepath.Ext(name) {
	case ".zst", ".zstd":
		opts.Compression = CompressionZstd
	case ".lz4":
		opts.Compression = CompressionLZ4
	case ".gz":
		opts.Compression = CompressionGzip
	}
	if opts.Compression != CompressionNone {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}

	switch ext := filepath.Ext(name); ext {
	case ".csv":
		opts.Format = FormatCSV
	case ".jsonl", ".ndjson":
		opts.Format = FormatJSONL
	case ".json":
		opts.Format = FormatJSON
	case ".parquet":
		opts.Format = FormatParquet
	case "":
		opts.Format = FormatCSV
	default:
		return Options{}, fmt.Errorf("%w: %s", ErrUnknownExtension, ext)
	}
	return opts, nil
}

// Encode formats and compresses b.
func Encode(b *query.Batch, opts Options) (*Artifact, error) {
	if b == nil {
		return nil, ErrNoBatch
	}
	if opts.Format == "" {
		opts.Format = FormatCSV
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}

	compressor, err := GetCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}
	formatter, err := GetFormatter(opts.Format, opts.Compression)
	if err != nil {
		return nil, err
	}
	if UsesInternalCompression(opts.Format) {
		compressor = NewNoneCompressor()
	}

	data, err := formatter.Format(b)
	if err != nil {
		return nil, fmt.Errorf("failed to format %s: %w", opts.Format, err)
	}

	level := opts.Level
	if level == 0 {
		level = compressor.DefaultLevel()
	}
	data, err = compressor.Compress(data, level)
	if err != nil {
		return nil, err
	}

	contentType := formatter.MIMEType()
	if compressor.Extension() != "" {
		contentType = "application/octet-stream"
	}
	return &Artifact{
		Data:        data,
		Extension:   formatter.Extension() + compressor.Extension(),
		ContentType: contentType,
		Rows:        b.RowCount(),
	}, nil
}

// NewS3Uploader creates an s3manager uploader from the S3 configuration.
func NewS3Uploader(cfg config.S3Config) (s3manageriface.UploaderAPI, error) {
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}
	return s3manager.NewUploader(sess), nil
}

// Exporter writes encoded results to their destination.
type Exporter struct {
	uploader s3manageriface.UploaderAPI // optional
	logger   *zap.Logger
}

// NewExporter creates an exporter. uploader may be nil when s3:// destinations
// are not needed.
func NewExporter(uploader s3manageriface.UploaderAPI, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{uploader: uploader, logger: logger}
}

// Write encodes b and stores it at opts.Destination.
func (e *Exporter) Write(ctx context.Context, b *query.Batch, opts Options) (*Result, error) {
	if opts.Destination == "" {
		return nil, ErrNoDestination
	}

	art, err := Encode(b, opts)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(opts.Destination, s3Scheme) {
		err = e.upload(ctx, opts.Destination, art)
	} else {
		err = writeFile(opts.Destination, art.Data)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		Destination: opts.Destination,
		Format:      opts.Format,
		Compression: opts.Compression,
		Rows:        art.Rows,
		Bytes:       len(art.Data),
	}
	if res.Format == "" {
		res.Format = FormatCSV
	}
	if res.Compression == "" {
		res.Compression = CompressionNone
	}
	e.logger.Info("export written",
		zap.String("destination", res.Destination),
		zap.String("format", res.Format),
		zap.Int("rows", res.Rows),
		zap.Int("bytes", res.Bytes))
	return res, nil
}

func (e *Exporter) upload(ctx context.Context, url string, art *Artifact) error {
	if e.uploader == nil {
		return ErrS3NotConfigured
	}
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return err
	}

	_, err = e.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(art.Data),
		ContentType: aws.String(art.ContentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to %s: %w", url, err)
	}
	return nil
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(url, s3Scheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidS3URL, url)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidS3URL, url)
	}
	return bucket, key, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
