package storage

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/personaliz/personaliz-server/internal/config"
	"github.com/personaliz/personaliz-server/internal/logging"
)

type uploader interface {
	Upload(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Publisher uploads files to a bucket and returns presigned GET URLs.
type S3Publisher struct {
	bucket string
	prefix string
	expiry time.Duration
	upl    uploader
	signer presigner
	logger *slog.Logger
}

var _ Publisher = (*S3Publisher)(nil)

// NewS3Publisher builds an S3 client from cfg. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
// A custom endpoint switches to path-style addressing unless it is AWS.
func NewS3Publisher(ctx context.Context, cfg config.S3Config, logger *slog.Logger) (*S3Publisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = !strings.Contains(cfg.Endpoint, "amazonaws.com")
		}
	})

	return newS3Publisher(cfg.Bucket, cfg.URLExpiry, manager.NewUploader(client), awss3.NewPresignClient(client), logger), nil
}

func newS3Publisher(bucket string, expiry time.Duration, upl uploader, signer presigner, logger *slog.Logger) *S3Publisher {
	if expiry <= 0 {
		expiry = config.DefaultS3URLExpiry
	}
	return &S3Publisher{
		bucket: bucket,
		prefix: "videos/",
		expiry: expiry,
		upl:    upl,
		signer: signer,
		logger: logging.WithComponent(logging.OrDiscard(logger), "s3"),
	}
}

func (p *S3Publisher) Name() string { return "s3" }

// Publish uploads localPath under videos/<name> and presigns a GET URL.
func (p *S3Publisher) Publish(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", localPath, err)
	}
	defer f.Close()

	key := p.prefix + filepath.Base(localPath)
	contentType := ContentType(localPath)

	start := time.Now()
	if _, err := p.upl.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	}); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	req, err := p.signer.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}

	p.logger.Info("published to s3", "key", key, "duration_ms", time.Since(start).Milliseconds())
	return req.URL, nil
}

var mediaTypes = map[string]string{
	".mp4": "video/mp4",
	".jpg": "image/jpeg",
	".wav": "audio/wav",
	".mp3": "audio/mpeg",
}

// ContentType returns the MIME type for a media file. The system MIME
// table does not reliably know video types, so common ones are fixed here.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
