package cloud

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
)

// GCS publishes documents to a bucket and hands out V4 signed URLs.
type GCS struct {
	client   *storage.Client
	bucket   string
	prefix   string
	ttl      time.Duration
	accessID string
	key      []byte
	now      func() time.Time
}

// GCSOptions configures a GCS publisher.
type GCSOptions struct {
	Bucket string
	Prefix string
	TTL    time.Duration
	// GoogleAccessID and PrivateKey sign URLs locally. When empty the
	// client's own credentials are used.
	GoogleAccessID string
	PrivateKey     string
}

// NewGCS creates a publisher using an existing storage client.
func NewGCS(client *storage.Client, opts GCSOptions) *GCS {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Prefix == "" {
		opts.Prefix = "waivers"
	}
	var key []byte
	if opts.PrivateKey != "" {
		key = []byte(opts.PrivateKey)
	}
	return &GCS{
		client:   client,
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
		ttl:      opts.TTL,
		accessID: opts.GoogleAccessID,
		key:      key,
		now:      time.Now,
	}
}

// Publish writes the document under a unique object name and returns a
// short-lived signed download URL.
func (g *GCS) Publish(ctx context.Context, filename string, data []byte) (*Link, error) {
	object := path.Join(g.prefix, strconv.FormatInt(g.now().UnixNano(), 10), filename)

	w := g.client.Bucket(g.bucket).Object(object).NewWriter(ctx)
	w.ContentType = pdfMimeType
	w.ContentDisposition = fmt.Sprintf("attachment; filename=%q", filename)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write gs://%s/%s: %w", g.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close gs://%s/%s: %w", g.bucket, object, err)
	}

	u, err := g.signedURL(object)
	if err != nil {
		return nil, err
	}
	return &Link{URL: u, Signed: true}, nil
}

func (g *GCS) signedURL(object string) (string, error) {
	opts := &storage.SignedURLOptions{
		Method:  "GET",
		Expires: g.now().Add(g.ttl),
		Scheme:  storage.SigningSchemeV4,
	}
	if g.accessID != "" && len(g.key) > 0 {
		opts.GoogleAccessID = g.accessID
		opts.PrivateKey = g.key
		u, err := storage.SignedURL(g.bucket, object, opts)
		if err != nil {
			return "", fmt.Errorf("sign url for %s: %w", object, err)
		}
		return u, nil
	}
	u, err := g.client.Bucket(g.bucket).SignedURL(object, opts)
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", object, err)
	}
	return u, nil
}
