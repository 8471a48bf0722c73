package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var log = logger.GetLogger("s3")

const (
	// keyMarker precedes every key in an object name so empty keys map to a
	// valid object name
	keyMarker   = "k"
	contentType = "application/octet-stream"
)

// Config controls the S3 backend
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Insecure  bool
	// CreateBucket creates the bucket on Open if it does not exist
	CreateBucket bool
	// ConditionalWrites makes PutIfAbsent send "If-None-Match: *". Only enable
	// it for services that honour conditional writes.
	ConditionalWrites bool
}

// Store is a backend.Backend on S3 compatible object storage. Every entry is
// one object named <prefix>/<namespace>/k<key>.
type Store struct {
	client *minio.Client
	cfg    Config
	closed atomic.Bool
}

// Open creates the client and verifies (or creates) the bucket
func Open(ctx context.Context, cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3: endpoint required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket required")
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        creds,
		Secure:       !cfg.Insecure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("s3: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if !cfg.CreateBucket {
			return nil, fmt.Errorf("s3: bucket %s does not exist", cfg.Bucket)
		}
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("s3: create bucket %s: %w", cfg.Bucket, err)
		}
		log.Infof("created bucket %s", cfg.Bucket)
	}

	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Store{client: client, cfg: cfg}, nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func (s *Store) nsPrefix(ns string) string {
	if s.cfg.Prefix == "" {
		return ns + "/"
	}
	return path.Join(s.cfg.Prefix, ns) + "/"
}

func (s *Store) object(ns, key string) string {
	return s.nsPrefix(ns) + keyMarker + key
}

func (s *Store) check(ctx context.Context, ns string) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	if err := backend.ValidNamespace(ns); err != nil {
		return err
	}
	return ctx.Err()
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}

func isPreconditionFailed(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusPreconditionFailed
	}
	return false
}

func (s *Store) put(ctx context.Context, ns, key string, value []byte, opts minio.PutObjectOptions) error {
	opts.ContentType = contentType
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.object(ns, key), bytes.NewReader(value), int64(len(value)), opts)
	return err
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// PutIfAbsent writes the entry if the object does not exist. Without
// ConditionalWrites this is a stat followed by a put, two racing callers can
// both report success. The ttl is ignored.
func (s *Store) PutIfAbsent(ctx context.Context, ns, key string, value []byte, _ time.Duration) (bool, error) {
	if err := s.check(ctx, ns); err != nil {
		return false, err
	}

	if s.cfg.ConditionalWrites {
		opts := minio.PutObjectOptions{}
		opts.SetMatchETagExcept("*")
		err := s.put(ctx, ns, key, value, opts)
		if isPreconditionFailed(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("s3: conditional put %s/%s: %w", ns, key, err)
		}
		return true, nil
	}

	_, err := s.client.StatObject(ctx, s.cfg.Bucket, s.object(ns, key), minio.StatObjectOptions{})
	switch {
	case err == nil:
		return false, nil
	case !isNotFound(err):
		return false, fmt.Errorf("s3: stat %s/%s: %w", ns, key, err)
	}
	if err := s.put(ctx, ns, key, value, minio.PutObjectOptions{}); err != nil {
		return false, fmt.Errorf("s3: put %s/%s: %w", ns, key, err)
	}
	return true, nil
}

// Put uploads the entry. The ttl is ignored.
func (s *Store) Put(ctx context.Context, ns, key string, value []byte, _ time.Duration) error {
	if err := s.check(ctx, ns); err != nil {
		return err
	}
	if err := s.put(ctx, ns, key, value, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("s3: put %s/%s: %w", ns, key, err)
	}
	return nil
}

// Delete removes the object. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := s.check(ctx, ns); err != nil {
		return err
	}
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.object(ns, key), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3: remove %s/%s: %w", ns, key, err)
	}
	return nil
}

// DropNamespace is not supported, object stores have no cheap prefix delete
func (s *Store) DropNamespace(ctx context.Context, ns string) error {
	if err := s.check(ctx, ns); err != nil {
		return err
	}
	return backend.ErrUnsupported
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

// Get downloads the object
func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	if err := s.check(ctx, ns); err != nil {
		return nil, false, err
	}

	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.object(ns, key), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("s3: get %s/%s: %w", ns, key, err)
	}
	defer obj.Close()

	// minio reports a missing object on first read
	payload, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("s3: read %s/%s: %w", ns, key, err)
	}
	if payload == nil {
		payload = []byte{}
	}
	return payload, true, nil
}

// ScanKeys lists the objects of ns
func (s *Store) ScanKeys(ctx context.Context, ns string) ([]string, error) {
	if err := s.check(ctx, ns); err != nil {
		return nil, err
	}
	var keys []string
	err := s.list(ctx, ns, func(key string) { keys = append(keys, key) })
	return keys, err
}

// CountEntries lists the objects of ns and counts them
func (s *Store) CountEntries(ctx context.Context, ns string) (int, error) {
	if err := s.check(ctx, ns); err != nil {
		return 0, err
	}
	n := 0
	err := s.list(ctx, ns, func(string) { n++ })
	return n, err
}

func (s *Store) list(ctx context.Context, ns string, fn func(key string)) error {
	prefix := s.nsPrefix(ns)
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, opts) {
		if object.Err != nil {
			return fmt.Errorf("s3: list %s: %w", ns, object.Err)
		}
		rel := strings.TrimPrefix(object.Key, prefix)
		if !strings.HasPrefix(rel, keyMarker) {
			continue
		}
		fn(strings.TrimPrefix(rel, keyMarker))
	}
	return nil
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Capabilities reports restricted keys and eventual consistency. Atomic
// create is only advertised with conditional writes enabled.
func (s *Store) Capabilities() backend.Capabilities {
	features := backend.FeatureRawValues | backend.FeatureRestrictedKeys
	if s.cfg.ConditionalWrites {
		features |= backend.FeatureAtomicCreate
	}
	return backend.Capabilities{
		Features:    features,
		Consistency: backend.ConsistencyEventual,
	}
}

// Info reports the endpoint and bucket
func (s *Store) Info() backend.Info {
	return backend.Info{
		Product:  backend.ImplS3,
		Version:  "minio-go/v7",
		Location: fmt.Sprintf("%s/%s", s.client.EndpointURL().Host, s.cfg.Bucket),
		Metadata: &struct {
			Prefix            string `json:"prefix,omitempty"`
			ConditionalWrites bool   `json:"conditional_writes"`
		}{s.cfg.Prefix, s.cfg.ConditionalWrites},
	}
}

// Close marks the store closed, the HTTP client holds no other resources
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
