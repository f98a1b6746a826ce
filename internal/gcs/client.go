// ABOUTME: GCS fetcher that stages gs:// file targets locally before upload
// ABOUTME: Supports ADC authentication, emulator mode, bucket allow-lists, and size limits

package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// URIScheme prefixes object references handled by this package.
const URIScheme = "gs://"

// DefaultMaxObjectSize matches the analysis service's direct upload limit.
const DefaultMaxObjectSize int64 = 32 << 20

// ErrObjectNotFound is returned when the referenced object does not exist.
var ErrObjectNotFound = errors.New("object does not exist")

// ErrObjectTooLarge is returned when an object exceeds MaxObjectSize.
var ErrObjectTooLarge = errors.New("object exceeds maximum size")

// Config holds GCS fetcher configuration.
type Config struct {
	// AllowedBuckets restricts which buckets may be fetched. Empty allows all.
	AllowedBuckets []string

	// CredentialsFile is the path to service account JSON (optional).
	// If empty, uses Application Default Credentials (ADC).
	CredentialsFile string

	// DownloadDir is the base directory for staged files.
	// Defaults to the OS temp directory.
	DownloadDir string

	// MaxObjectSize caps staged objects. Zero uses DefaultMaxObjectSize.
	MaxObjectSize int64

	// EmulatorHost is the GCS emulator host (e.g., "localhost:4443").
	// When set, the client uses HTTP directly instead of the Go SDK.
	// This works around googleapis/google-cloud-go#6139 where the SDK
	// uses path-style URLs that fake-gcs-server doesn't support.
	EmulatorHost string
}

// Download describes a staged object.
type Download struct {
	// LocalPath is the full path to the staged file.
	LocalPath string

	// Name is the object's base name, used as the upload filename.
	Name string

	// Checksum is the SHA256 hash of the content.
	Checksum string

	// Size is the file size in bytes.
	Size int64

	dir string
}

// Cleanup removes the staged file and its directory.
func (d *Download) Cleanup() error {
	if d == nil || d.dir == "" {
		return nil
	}
	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("removing directory %s: %w", d.dir, err)
	}
	return nil
}

// Client stages gs:// objects on local disk.
type Client struct {
	storageClient  *storage.Client
	httpClient     *http.Client
	allowedBuckets []string
	downloadDir    string
	maxObjectSize  int64
	emulatorHost   string // Non-empty when using emulator mode
}

// NewClient creates a new GCS fetcher.
// When STORAGE_EMULATOR_HOST is set or EmulatorHost is configured,
// the client uses HTTP directly to work around Go SDK limitations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{
		allowedBuckets: cfg.AllowedBuckets,
		downloadDir:    cfg.DownloadDir,
		maxObjectSize:  cfg.MaxObjectSize,
	}
	if c.downloadDir == "" {
		c.downloadDir = os.TempDir()
	}
	if c.maxObjectSize <= 0 {
		c.maxObjectSize = DefaultMaxObjectSize
	}

	emulatorHost := cfg.EmulatorHost
	if emulatorHost == "" {
		emulatorHost = os.Getenv("STORAGE_EMULATOR_HOST")
	}
	if emulatorHost != "" {
		c.httpClient = &http.Client{}
		c.emulatorHost = strings.TrimPrefix(strings.TrimPrefix(emulatorHost, "http://"), "https://")
		return c, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	c.storageClient = client
	return c, nil
}

// Close closes the GCS client.
func (c *Client) Close() error {
	if c.storageClient != nil {
		return c.storageClient.Close()
	}
	return nil
}

// IsEmulatorMode returns true if the client is configured for emulator mode.
func (c *Client) IsEmulatorMode() bool {
	return c.emulatorHost != ""
}

// Fetch stages the object referenced by uri under DownloadDir/sessionID.
// The caller must call Cleanup on the result.
func (c *Client) Fetch(ctx context.Context, uri, sessionID string) (*Download, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	if object == "" || path.Clean(object) != object || strings.HasSuffix(object, "/") {
		return nil, fmt.Errorf("invalid object path %q", object)
	}
	if len(c.allowedBuckets) > 0 && !slices.Contains(c.allowedBuckets, bucket) {
		return nil, fmt.Errorf("bucket %q is not allowed", bucket)
	}

	dir, err := os.MkdirTemp(c.downloadDir, "sentinel-"+sessionID+"-")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	name := path.Base(object)
	dl := &Download{
		LocalPath: filepath.Join(dir, name),
		Name:      name,
		dir:       dir,
	}

	var body io.ReadCloser
	if c.emulatorHost != "" {
		body, err = c.openViaHTTP(ctx, bucket, object)
	} else {
		body, err = c.openViaSDK(ctx, bucket, object)
	}
	if err != nil {
		_ = dl.Cleanup()
		return nil, err
	}
	defer body.Close()

	if err := c.writeLocal(dl, body); err != nil {
		_ = dl.Cleanup()
		return nil, err
	}
	return dl, nil
}

// openViaHTTP opens an object using the emulator's JSON API.
func (c *Client) openViaHTTP(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	downloadURL := fmt.Sprintf("http://%s/storage/v1/b/%s/o/%s?alt=media",
		c.emulatorHost, url.PathEscape(bucket), url.PathEscape(object))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request to %s: %w", downloadURL, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("gs://%s/%s: %w", bucket, object, ErrObjectNotFound)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("downloading object %s/%s: HTTP %d", bucket, object, resp.StatusCode)
	}
}

// openViaSDK opens an object using the Go GCS SDK.
func (c *Client) openViaSDK(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	reader, err := c.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", bucket, object, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("opening object %s/%s: %w", bucket, object, err)
	}
	return reader, nil
}

func (c *Client) writeLocal(dl *Download, body io.Reader) error {
	file, err := os.Create(dl.LocalPath)
	if err != nil {
		return fmt.Errorf("creating local file %s: %w", dl.LocalPath, err)
	}
	defer file.Close()

	hasher := sha256.New()
	writer := io.MultiWriter(file, hasher)

	// Read one byte past the limit to detect oversize objects.
	size, err := io.Copy(writer, io.LimitReader(body, c.maxObjectSize+1))
	if err != nil {
		return fmt.Errorf("downloading object: %w", err)
	}
	if size > c.maxObjectSize {
		return fmt.Errorf("%w: limit %d bytes", ErrObjectTooLarge, c.maxObjectSize)
	}

	dl.Size = size
	dl.Checksum = hex.EncodeToString(hasher.Sum(nil))
	return nil
}

// IsGCSURI reports whether s references a GCS object.
func IsGCSURI(s string) bool {
	return strings.HasPrefix(s, URIScheme)
}

// ParseGCSURI parses a gs:// URI into bucket and object path.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if uri == "" {
		return "", "", errors.New("empty URI")
	}

	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: must start with gs://")
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, URIScheme), "/", 2)
	if parts[0] == "" {
		return "", "", errors.New("invalid GCS URI: missing bucket")
	}

	bucket = parts[0]
	if len(parts) > 1 {
		object = parts[1]
	}

	return bucket, object, nil
}
