package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	s3config "github.com/erarta/api.c0r.ai/internal/config"
	"github.com/erarta/api.c0r.ai/internal/domain"
	"github.com/erarta/api.c0r.ai/internal/metrics"
)

const referenceScheme = "s3://"

var errStorageDisabled = errors.New("object storage is not configured; set S3_BUCKET_NAME to enable uploads")

// PhotoStore persists uploaded photos and hands out URLs a third party can read them from.
type PhotoStore interface {
	Store(ctx context.Context, image domain.UploadedImage, objectID string) (domain.StorageReference, error)
	IssueReadURL(ctx context.Context, objectID string) (string, error)
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type urlPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type s3Repository struct {
	client    s3API
	presigner urlPresigner
	cfg       *s3config.S3Config
	log       *zap.Logger
	disabled  bool
}

func NewS3Repository(ctx context.Context, cfg *s3config.S3Config, log *zap.Logger) (PhotoStore, error) {
	if cfg.BucketName == "" {
		log.Warn("S3_BUCKET_NAME is not set; photo uploads will fail until configured")
		return &s3Repository{cfg: cfg, log: log, disabled: true}, nil
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	repo := newS3Repository(client, s3.NewPresignClient(client), cfg, log)

	if cfg.CreateBucket {
		if err := repo.ensureBucketExists(ctx); err != nil {
			log.Warn("Failed to ensure bucket exists", zap.Error(err))
		}
	}

	return repo, nil
}

func newS3Repository(client s3API, presigner urlPresigner, cfg *s3config.S3Config, log *zap.Logger) *s3Repository {
	return &s3Repository{
		client:    client,
		presigner: presigner,
		cfg:       cfg,
		log:       log,
	}
}

func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func (r *s3Repository) ensureBucketExists(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(r.cfg.BucketName),
	})
	if err == nil {
		r.log.Info("Bucket already exists", zap.String("bucket", r.cfg.BucketName))
		return nil
	}

	r.log.Info("Creating bucket", zap.String("bucket", r.cfg.BucketName))

	input := &s3.CreateBucketInput{Bucket: aws.String(r.cfg.BucketName)}
	if r.cfg.Region != "" && r.cfg.Region != "us-east-1" && r.cfg.Region != "auto" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(r.cfg.Region),
		}
	}
	if _, err := r.client.CreateBucket(ctx, input); err != nil {
		return err
	}

	r.log.Info("Bucket created successfully", zap.String("bucket", r.cfg.BucketName))
	return nil
}

func (r *s3Repository) Store(ctx context.Context, image domain.UploadedImage, objectID string) (domain.StorageReference, error) {
	const op = "store photo"
	if r.disabled {
		return "", domain.NewError(domain.KindStorageUnavailable, op, errStorageDisabled)
	}
	if len(image.Data) == 0 {
		return "", domain.NewError(domain.KindStorageWrite, op, errors.New("photo is empty"))
	}
	if objectID == "" {
		return "", domain.NewError(domain.KindStorageWrite, op, errors.New("object id is empty"))
	}

	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.cfg.BucketName),
		Key:           aws.String(objectID),
		Body:          bytes.NewReader(image.Data),
		ContentType:   aws.String(image.MediaType),
		ContentLength: aws.Int64(image.Size()),
	})
	if err != nil {
		r.log.Error("Failed to upload photo to S3",
			zap.String("key", objectID),
			zap.Error(err))
		return "", domain.NewError(domain.KindStorageWrite, op, err)
	}

	metrics.UploadBytesTotal.WithLabelValues(image.MediaType).Add(float64(image.Size()))
	r.log.Info("Photo uploaded to S3",
		zap.String("key", objectID),
		zap.String("content_type", image.MediaType),
		zap.Int64("size", image.Size()))

	return domain.StorageReference(referenceScheme + objectID), nil
}

func (r *s3Repository) IssueReadURL(ctx context.Context, objectID string) (string, error) {
	const op = "issue read url"
	if r.disabled {
		return "", domain.NewError(domain.KindStorageUnavailable, op, errStorageDisabled)
	}

	if !r.cfg.Presign {
		if r.cfg.PublicBaseURL == "" {
			return "", domain.NewError(domain.KindStorageUnavailable, op,
				errors.New("S3_PUBLIC_BASE_URL is required when S3_PRESIGN is disabled"))
		}
		return r.cfg.PublicBaseURL + "/" + url.PathEscape(objectID), nil
	}

	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.BucketName),
		Key:    aws.String(objectID),
	}, s3.WithPresignExpires(r.cfg.PresignTTL))
	if err != nil {
		return "", domain.NewError(domain.KindStorageUnavailable, op, err)
	}

	return r.externalizeURL(req.URL), nil
}

// externalizeURL swaps scheme and host for the public endpoint, keeping path and signature.
func (r *s3Repository) externalizeURL(raw string) string {
	if r.cfg.PublicEndpoint == "" {
		return raw
	}

	target, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	public, err := url.Parse(r.cfg.PublicEndpoint)
	if err != nil || public.Host == "" {
		return raw
	}

	target.Scheme = public.Scheme
	target.Host = public.Host
	return target.String()
}
