package certificate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"nodues/clearance/internal/db"
)

const pdfContentType = "application/pdf"

// Storage persists rendered certificates and returns the URL students download them from.
type Storage interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// LocalStorage writes certificates under a directory served by the HTTP server.
type LocalStorage struct {
	dir     string
	baseURL string
}

func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStorage{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStorage) Dir() string {
	return s.dir
}

func (s *LocalStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + key)
	path := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create certificate dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write certificate: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("store certificate: %w", err)
	}
	return s.baseURL + clean, nil
}

// OSSStorage uploads certificates to an Aliyun OSS bucket.
type OSSStorage struct {
	bucket     *oss.Bucket
	endpoint   string
	bucketName string
	publicBase string
}

type OSSOptions struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	PublicBase string
}

func NewOSSStorage(opts OSSOptions) (*OSSStorage, error) {
	if opts.Endpoint == "" || opts.AccessKey == "" || opts.SecretKey == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("oss storage requires endpoint, access key, secret key and bucket")
	}
	client, err := oss.New(opts.Endpoint, opts.AccessKey, opts.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}
	bucket, err := client.Bucket(opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("client.Bucket: %w", err)
	}
	return &OSSStorage{
		bucket:     bucket,
		endpoint:   opts.Endpoint,
		bucketName: opts.Bucket,
		publicBase: strings.TrimRight(opts.PublicBase, "/"),
	}, nil
}

func (s *OSSStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	key = strings.TrimLeft(key, "/")
	err := s.bucket.PutObject(key, bytes.NewReader(data),
		oss.WithContext(ctx),
		oss.ContentType(pdfContentType),
		oss.ContentDisposition("inline"),
	)
	if err != nil {
		return "", fmt.Errorf("upload certificate: %w", err)
	}
	return ossPublicURL(s.publicBase, s.endpoint, s.bucketName, key), nil
}

func ossPublicURL(publicBase, endpoint, bucket, key string) string {
	if publicBase != "" {
		return publicBase + "/" + key
	}
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", bucket, host, key)
}

// ObjectKey names a certificate file.
func ObjectKey(form db.Form) string {
	return fmt.Sprintf("certificates/%s-%s.pdf", form.RegistrationNo, form.ID)
}
