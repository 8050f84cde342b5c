package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client abstracts the S3 API operations used by [S3]. The [s3.Client]
// type satisfies this interface.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Options configures [NewS3Client]. Empty credentials leave request
// signing to the SDK defaults.
type S3Options struct {
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewS3Client builds an S3 client for AWS or any S3-compatible store
// (MinIO, R2, etc.).
func NewS3Client(o S3Options) *s3.Client {
	opts := s3.Options{
		Region:       o.Region,
		UsePathStyle: o.PathStyle,
	}
	if o.Endpoint != "" {
		opts.BaseEndpoint = aws.String(o.Endpoint)
	}
	if o.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     o.AccessKeyID,
			SecretAccessKey: o.SecretAccessKey,
			SessionToken:    o.SessionToken,
			Source:          "tensorstore",
		}
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		})
	}
	return s3.New(opts)
}

// S3 is the object store backend. Paths have the form s3://bucket/key.
// Reads are served with ranged GetObject calls; writes stream through a
// single PutObject, creating the bucket first if it does not exist.
type S3 struct {
	client S3Client
	region string
}

// NewS3 returns an S3 backend. Region is used as the location constraint
// when a bucket has to be created.
func NewS3(client S3Client, region string) *S3 {
	return &S3{client: client, region: region}
}

func splitS3(path string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(path, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("storage: malformed s3 location %q, want s3://bucket/key", path)
	}
	return bucket, key, nil
}

func (s *S3) Open(ctx context.Context, path string) (Object, error) {
	bucket, key, err := splitS3(path)
	if err != nil {
		return nil, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3("head", path, err)
	}
	return &s3Object{
		ctx:    ctx,
		client: s.client,
		path:   path,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(out.ContentLength),
	}, nil
}

func (s *S3) Create(ctx context.Context, path string) (Writer, error) {
	bucket, key, err := splitS3(path)
	if err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	uctx, cancel := context.WithCancel(ctx)
	w := &s3Writer{pw: pw, done: make(chan struct{}), cancel: cancel, path: path}
	go func() {
		defer close(w.done)
		_, err := s.client.PutObject(uctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			w.uploadErr = classifyS3("put", path, err)
		}
		// Unblock pending writes if the upload failed early.
		pr.CloseWithError(err)
	}()
	return w, nil
}

func (s *S3) ensureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !isS3NotFound(err) {
		return classifyS3("head-bucket", bucket, err)
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != "" && s.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, in); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return classifyS3("create-bucket", bucket, err)
	}
	return nil
}

type s3Object struct {
	ctx    context.Context
	client S3Client
	path   string
	bucket string
	key    string
	size   int64
}

func (o *s3Object) Size() int64  { return o.size }
func (o *s3Object) Close() error { return nil }

func (o *s3Object) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &IOError{Op: "read", Path: o.path, Err: errors.New("negative offset")}
	}
	if off >= o.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	want := int64(len(p))
	if off+want > o.size {
		want = o.size - off
	}
	out, err := o.client.GetObject(o.ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+want-1)),
	})
	if err != nil {
		return 0, classifyS3("get", o.path, err)
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p[:want])
	if err != nil {
		return n, classify("get", o.path, err)
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// s3Writer streams data to a background PutObject call through an io.Pipe.
type s3Writer struct {
	pw        *io.PipeWriter
	done      chan struct{}
	cancel    context.CancelFunc
	path      string
	uploadErr error
	closed    bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	n, err := w.pw.Write(p)
	if err != nil {
		return n, &IOError{Op: "write", Path: w.path, Err: err}
	}
	return n, nil
}

// Close signals EOF to the PutObject reader, waits for the upload and
// returns its error.
func (w *s3Writer) Close() error {
	if w.closed {
		return w.uploadErr
	}
	w.closed = true
	w.pw.Close()
	<-w.done
	w.cancel()
	return w.uploadErr
}

var errAborted = errors.New("upload aborted")

// Abort fails the request body so the object is never published.
func (w *s3Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.pw.CloseWithError(errAborted)
	w.cancel()
	<-w.done
	return nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func classifyS3(op, path string, err error) error {
	if isS3NotFound(err) {
		return notFound(op, path, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
			return denied(op, path, err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable",
			"Throttling", "ThrottlingException", "RequestTimeTooSkewed":
			return &IOError{Op: op, Path: path, Transient: true, Err: err}
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return &IOError{Op: op, Path: path, Transient: true, Err: err}
		}
	}
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		switch code := re.HTTPStatusCode(); {
		case code == http.StatusForbidden || code == http.StatusUnauthorized:
			return denied(op, path, err)
		case code == http.StatusTooManyRequests || code >= 500:
			return &IOError{Op: op, Path: path, Transient: true, Err: err}
		}
	}
	return classify(op, path, err)
}

var _ Backend = (*S3)(nil)
