package endorsement

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

const (
	// DefaultBucket is the Cloud Storage bucket GCE publishes launch endorsements in.
	DefaultBucket = "gce_tcb_integrity"
	// DefaultPrefix is the object prefix of launch endorsements for TDX firmware.
	DefaultPrefix = "ovmf_x64_csm/tdx"
)

// Fetcher retrieves the raw launch endorsement of a firmware by its MRTD.
type Fetcher interface {
	Fetch(ctx context.Context, mrtd types.Measurement) ([]byte, error)
}

// ObjectName returns the name of the endorsement object for an MRTD.
func ObjectName(prefix string, mrtd types.Measurement) string {
	return path.Join(prefix, mrtd.String()+".binarypb")
}

// GCSOptions configures a [GCSFetcher].
type GCSOptions struct {
	// Bucket defaults to [DefaultBucket].
	Bucket string
	// Prefix defaults to [DefaultPrefix].
	Prefix string
	// Anonymous disables authentication. The GCE bucket is publicly readable.
	Anonymous bool
}

// GCSFetcher fetches launch endorsements from Google Cloud Storage.
type GCSFetcher struct {
	objects *storage.ObjectsService
	bucket  string
	prefix  string
	log     logrus.FieldLogger
}

// NewGCSFetcher creates a fetcher. Unless anonymous access is requested,
// application default credentials are used.
func NewGCSFetcher(ctx context.Context, log logrus.FieldLogger, opts GCSOptions, clientOpts ...option.ClientOption) (*GCSFetcher, error) {
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}

	if opts.Anonymous {
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	} else {
		creds, err := google.FindDefaultCredentials(ctx, storage.DevstorageReadOnlyScope)
		if err != nil {
			return nil, fmt.Errorf("finding default credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	}

	service, err := storage.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &GCSFetcher{
		objects: service.Objects,
		bucket:  opts.Bucket,
		prefix:  opts.Prefix,
		log:     log,
	}, nil
}

// Fetch downloads the endorsement object of the given MRTD.
func (f *GCSFetcher) Fetch(ctx context.Context, mrtd types.Measurement) ([]byte, error) {
	object := ObjectName(f.prefix, mrtd)
	log := f.log.WithField("object", fmt.Sprintf("gs://%s/%s", f.bucket, object))

	log.Debug("Downloading launch endorsement")
	resp, err := f.objects.Get(f.bucket, object).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("downloading gs://%s/%s: %w", f.bucket, object, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading gs://%s/%s: %w", f.bucket, object, err)
	}
	if len(raw) > MaxSize {
		return nil, fmt.Errorf("gs://%s/%s exceeds %d bytes", f.bucket, object, MaxSize)
	}

	log.WithField("bytes", len(raw)).Debug("Downloaded launch endorsement")
	return raw, nil
}
