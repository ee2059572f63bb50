package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config configures the S3 segment storage.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	// Prefix is prepended to every object key ("logs/" stores "logs/<name>").
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
	KMSKeyARN       string
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 stores each segment as one object. Create uses a conditional put
// (If-None-Match: *) so an existing object is never overwritten.
type S3 struct {
	bucket string
	prefix string
	kmsKey string
	api    s3API
}

// NewS3 builds an S3 storage from the default AWS credential chain, with
// static credentials and a custom endpoint (MinIO, LocalStack) when set.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("segment: s3 bucket required")
	}

	if cfg.Region == "" {
		return nil, errors.New("segment: s3 region required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("segment: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle

		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newS3WithAPI(cfg.Bucket, cfg.Prefix, cfg.KMSKeyARN, client), nil
}

func newS3WithAPI(bucket, prefix, kmsKey string, api s3API) *S3 {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &S3{bucket: bucket, prefix: prefix, kmsKey: kmsKey, api: api}
}

func (c *S3) Create(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.key(name)),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	}

	if c.kmsKey != "" {
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(c.kmsKey)
	}

	if _, err := c.api.PutObject(ctx, input); err != nil {
		if apiErrorCode(err) == "PreconditionFailed" {
			return fmt.Errorf("put object %s: %w", c.key(name), ErrExists)
		}

		return fmt.Errorf("put object %s: %w", c.key(name), err)
	}

	return nil
}

// ReadRange issues a ranged GET. A zero length has no valid byte range, so
// it checks the object with a HEAD instead.
func (c *S3) ReadRange(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	if err := validateRange(name, offset, length); err != nil {
		return nil, err
	}

	if length == 0 {
		size, err := c.size(ctx, name)
		if err != nil {
			return nil, err
		}

		if offset > size {
			return nil, shortRead(c.key(name), offset, length, size)
		}

		return []byte{}, nil
	}

	data, err := c.get(ctx, name, fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) != length {
		return nil, fmt.Errorf("get object %s@%d+%d: got %d bytes: %w", c.key(name), offset, length, len(data), ErrShortRead)
	}

	return data, nil
}

func (c *S3) ReadAll(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	return c.get(ctx, name, "")
}

// List pages through every object under the prefix.
func (c *S3) List(ctx context.Context) ([]Info, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(c.bucket)}
	if c.prefix != "" {
		input.Prefix = aws.String(c.prefix)
	}

	var infos []Info

	pages := s3.NewListObjectsV2Paginator(c.api, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s/%s: %w", c.bucket, c.prefix, err)
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), c.prefix)
			if ValidateName(name) != nil {
				continue
			}

			infos = append(infos, Info{Name: name, Size: aws.ToInt64(obj.Size)})
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}

func (c *S3) size(ctx context.Context, name string) (int64, error) {
	resp, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("head object %s: %w", c.key(name), ErrNotFound)
		}

		return 0, fmt.Errorf("head object %s: %w", c.key(name), err)
	}

	return aws.ToInt64(resp.ContentLength), nil
}

func (c *S3) get(ctx context.Context, name, rng string) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(name)),
	}

	if rng != "" {
		input.Range = aws.String(rng)
	}

	resp, err := c.api.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get object %s: %w", c.key(name), ErrNotFound)
		}

		if apiErrorCode(err) == "InvalidRange" {
			return nil, fmt.Errorf("get object %s %s: %w", c.key(name), rng, ErrShortRead)
		}

		return nil, fmt.Errorf("get object %s: %w", c.key(name), err)
	}

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", c.key(name), err)
	}

	return data, nil
}

func (c *S3) key(name string) string {
	return c.prefix + name
}

// isNotFound matches GET (NoSuchKey) and HEAD (NotFound, no body) misses.
func isNotFound(err error) bool {
	var (
		noKey    *types.NoSuchKey
		notFound *types.NotFound
	)

	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}

	code := apiErrorCode(err)

	return code == "NoSuchKey" || code == "NotFound"
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}

	return ""
}

var (
	_ Storage     = (*S3)(nil)
	_ Lister      = (*S3)(nil)
	_ WholeReader = (*S3)(nil)
)
