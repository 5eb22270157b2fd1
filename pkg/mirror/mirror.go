package mirror

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/3leaps/wsfetch/pkg/layout"
)

// PutObjectAPI is the slice of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Summary reports one Upload.
type Summary struct {
	Files   int
	Bytes   int64
	Skipped int
}

// Mirror uploads install directories.
type Mirror struct {
	client PutObjectAPI
	cfg    Config
	filter *Filter
	logger *zap.Logger
}

// New builds a mirror with an S3 client from cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &Error{Op: "New", Bucket: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg, logger)
}

// NewWithClient builds a mirror around an existing client.
func NewWithClient(client PutObjectAPI, cfg Config, logger *zap.Logger) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		client: client,
		cfg:    cfg,
		filter: NewFilter(cfg.Include, cfg.Exclude),
		logger: logger,
	}, nil
}

// LoadAWSConfig resolves SDK config: explicit region, profile, static
// credentials, then environment. An unresolved region falls back to instance
// metadata when DetectRegion is set, and finally to DefaultAWSRegion for AWS
// endpoints.
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	if awsCfg.Region == "" && cfg.Endpoint == "" && cfg.DetectRegion {
		if region, err := InstanceRegion(ctx, awsCfg); err == nil {
			awsCfg.Region = region
		}
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// InstanceRegion asks the EC2 instance metadata service for the region.
func InstanceRegion(ctx context.Context, awsCfg aws.Config) (string, error) {
	out, err := imds.NewFromConfig(awsCfg).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("instance metadata region: %w", err)
	}
	return out.Region, nil
}

func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}

// Mirror uploads dir and discards the summary.
func (m *Mirror) Mirror(ctx context.Context, dir, name string) error {
	_, err := m.Upload(ctx, dir, name)
	return err
}

// Upload puts every matching regular file under dir at
// <prefix>/<sanitized name>/<relative path>. The first failure stops the
// walk.
func (m *Mirror) Upload(ctx context.Context, dir, name string) (Summary, error) {
	var sum Summary
	folder := layout.SanitizeName(name)
	log := m.logger.With(zap.String("bucket", m.cfg.Bucket), zap.String("folder", folder))

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !m.filter.Match(rel) {
			sum.Skipped++
			return nil
		}

		n, err := m.put(ctx, path, ObjectKey(m.cfg.Prefix, folder, rel))
		if err != nil {
			return err
		}
		sum.Files++
		sum.Bytes += n
		return nil
	})
	if err != nil {
		return sum, err
	}

	log.Info("install mirrored",
		zap.Int("files", sum.Files),
		zap.Int64("bytes", sum.Bytes),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

func (m *Mirror) put(ctx context.Context, path, key string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return 0, wrapError("PutObject", m.cfg.Bucket, key, err)
	}
	return size, nil
}
