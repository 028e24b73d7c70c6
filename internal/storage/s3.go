package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config はS3互換ストレージの接続設定。
type S3Config struct {
	Bucket string
	Region string
	// Endpoint はMinIOやR2などS3互換サービスのエンドポイント。空の場合はAWS。
	Endpoint     string
	UsePathStyle bool
	// PublicBaseURL は公開URLの接頭辞。空の場合はバケットの仮想ホスト形式URL。
	PublicBaseURL string
}

// objectAPI はS3Storeが使うS3操作。テストで差し替える。
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store はS3互換ストレージに画像を保存する。
type S3Store struct {
	client     objectAPI
	bucket     string
	publicBase string
	logger     *slog.Logger
}

var _ Store = (*S3Store)(nil)

// NewS3Store はAWS SDKの標準設定（環境変数・共有設定ファイル）からS3Storeを生成する。
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, awsCfg.Region)
	}
	return newS3Store(client, cfg.Bucket, publicBase, logger), nil
}

func newS3Store(client objectAPI, bucket, publicBase string, logger *slog.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, publicBase: publicBase, logger: logger}
}

// Put はオブジェクトをアップロードし、公開URLを返す。
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return s.PublicURL(key), nil
}

// Delete はオブジェクトを1件ずつ削除する。失敗したキーがあっても残りの削除を続ける。
func (s *S3Store) Delete(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if key == "" {
			continue
		}
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		var nsk *s3types.NoSuchKey
		if err != nil && !errors.As(err, &nsk) {
			s.logger.Warn("ストレージオブジェクトの削除に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("failed to delete object %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// PublicURL はキーの公開URLを返す。
func (s *S3Store) PublicURL(key string) string {
	return joinURL(s.publicBase, key)
}
