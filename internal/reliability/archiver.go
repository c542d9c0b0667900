// Package reliability holds maintenance jobs: result-log archiving, retention and WAL upkeep.
package reliability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aristath/autopublish/internal/config"
	"github.com/aristath/autopublish/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ObjectUploader is the subset of the S3 upload manager the archiver needs
type ObjectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// DayResults lists the ticker results of one day
type DayResults interface {
	ForDay(day string) ([]*domain.TickerJobResult, error)
}

// NewS3Uploader builds an upload manager for an S3-compatible endpoint (Cloudflare R2)
func NewS3Uploader(ctx context.Context, cfg config.ArchiveConfig) (*manager.Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return manager.NewUploader(client), nil
}

// ResultArchiver uploads each day's ticker results as JSON lines
type ResultArchiver struct {
	results  DayResults
	uploader ObjectUploader
	now      func() time.Time
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewResultArchiver creates an archiver writing to s3://bucket/prefix/{day}.jsonl
func NewResultArchiver(results DayResults, uploader ObjectUploader, bucket, prefix string, log zerolog.Logger) *ResultArchiver {
	return &ResultArchiver{
		results:  results,
		uploader: uploader,
		now:      time.Now,
		bucket:   bucket,
		prefix:   prefix,
		log:      log.With().Str("job", "result_archive").Logger(),
	}
}

// Name returns the job name
func (a *ResultArchiver) Name() string {
	return "result_archive"
}

// Run archives yesterday's results
func (a *ResultArchiver) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	yesterday := domain.DayOf(a.now().AddDate(0, 0, -1))
	_, err := a.ArchiveDay(ctx, yesterday)
	return err
}

// ObjectKey returns the key a day's archive is stored under
func (a *ResultArchiver) ObjectKey(day string) string {
	return path.Join(a.prefix, day+".jsonl")
}

// ArchiveDay uploads the results of one day and returns how many were written.
// Days without results upload nothing.
func (a *ResultArchiver) ArchiveDay(ctx context.Context, day string) (int, error) {
	results, err := a.results.ForDay(day)
	if err != nil {
		return 0, fmt.Errorf("failed to read results for %s: %w", day, err)
	}
	if len(results) == 0 {
		a.log.Info().Str("day", day).Msg("No results to archive")
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return 0, fmt.Errorf("failed to encode result %s: %w", res.ID, err)
		}
	}

	key := a.ObjectKey(day)
	size := buf.Len()
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        &buf,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	a.log.Info().
		Str("day", day).
		Str("key", key).
		Int("results", len(results)).
		Int("bytes", size).
		Msg("Results archived")
	return len(results), nil
}
