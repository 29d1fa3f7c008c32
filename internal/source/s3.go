package source

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kailas-cloud/policyrag/internal/domain/policy"
)

// S3Config locates a corpus object.
type S3Config struct {
	Bucket       string
	Key          string
	Region       string
	AWSAccessKey string
	AWSSecretKey string
}

// objectGetter is the part of *s3.Client the loader needs.
type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads the corpus from an S3 object.
type S3Loader struct {
	client objectGetter
	bucket string
	key    string
}

// NewS3Loader creates a loader with credentials from cfg, or from the
// default AWS chain (environment, shared config, IAM role) when none are set.
func NewS3Loader(ctx context.Context, cfg S3Config) (*S3Loader, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return newS3Loader(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Key), nil
}

func newS3Loader(client objectGetter, bucket, key string) *S3Loader {
	return &S3Loader{client: client, bucket: bucket, key: key}
}

// Load implements Loader.
func (l *S3Loader) Load(ctx context.Context) (policy.Corpus, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		return policy.Corpus{}, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	return policy.Decode(out.Body)
}

// Name implements Loader.
func (l *S3Loader) Name() string { return "s3://" + l.bucket + "/" + l.key }
