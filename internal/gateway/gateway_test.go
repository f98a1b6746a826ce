// ABOUTME: Tests for the submission gateway and its caller-facing error messages
// ABOUTME: Uses a fake remote and fake object fetcher to cover every failure kind

package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/gcs"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/virustotal"
)

type fakeRemote struct {
	mu        sync.Mutex
	handle    types.AnalysisHandle
	err       error
	urls      []string
	filenames []string
	contents  []string
}

func (f *fakeRemote) UploadFile(_ context.Context, filename string, content io.Reader) (types.AnalysisHandle, error) {
	data, _ := io.ReadAll(content)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filenames = append(f.filenames, filename)
	f.contents = append(f.contents, string(data))
	return f.handle, f.err
}

func (f *fakeRemote) SubmitURL(_ context.Context, target string) (types.AnalysisHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, target)
	return f.handle, f.err
}

type fakeFetcher struct {
	dir string
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, uri, _ string) (*gcs.Download, error) {
	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(f.dir, "staged.bin")
	if err := os.WriteFile(path, []byte("staged:"+uri), 0o600); err != nil {
		return nil, err
	}
	return &gcs.Download{LocalPath: path, Name: "object.bin"}, nil
}

func newGateway(t *testing.T, remote Remote, fetcher ObjectFetcher) *Gateway {
	t.Helper()
	g, err := New(Config{Remote: remote, Fetcher: fetcher})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.exe")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestNew_RequiresRemote(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("New() without remote should fail")
	}
}

func TestGateway_SubmitURL_Normalizes(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{handle: "u-1"}
	g := newGateway(t, remote, nil)

	target, _ := types.NewURLTarget("www.example.com")
	handle, err := g.Submit(context.Background(), target)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle != "u-1" {
		t.Errorf("handle = %q, want u-1", handle)
	}
	if len(remote.urls) != 1 || remote.urls[0] != "http://example.com" {
		t.Errorf("submitted urls = %v", remote.urls)
	}
}

func TestGateway_SubmitFile(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{handle: "f-1"}
	g := newGateway(t, remote, nil)

	target, _ := types.NewFileTarget(writeTempFile(t, "MZ"))
	handle, err := g.Submit(context.Background(), target)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle != "f-1" {
		t.Errorf("handle = %q, want f-1", handle)
	}
	if remote.filenames[0] != "sample.exe" || remote.contents[0] != "MZ" {
		t.Errorf("uploaded %v %v", remote.filenames, remote.contents)
	}
}

func TestGateway_SubmitGCSFile(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{handle: "f-2"}
	g := newGateway(t, remote, &fakeFetcher{dir: t.TempDir()})

	target, _ := types.NewFileTarget("gs://uploads/object.bin")
	if _, err := g.Submit(context.Background(), target); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if remote.filenames[0] != "object.bin" || remote.contents[0] != "staged:gs://uploads/object.bin" {
		t.Errorf("uploaded %v %v", remote.filenames, remote.contents)
	}
}

func TestGateway_SubmitErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	existing := writeTempFile(t, "data")

	tests := []struct {
		name        string
		target      func() types.ScanTarget
		remote      *fakeRemote
		fetcher     ObjectFetcher
		wantKind    ErrorKind
		wantMessage string
	}{
		{
			name:        "missing file",
			target:      func() types.ScanTarget { tg, _ := types.NewFileTarget(filepath.Join(dir, "nope")); return tg },
			remote:      &fakeRemote{handle: "x"},
			wantKind:    KindFileNotFound,
			wantMessage: "Error: File does not exist",
		},
		{
			name:        "directory is not a file",
			target:      func() types.ScanTarget { tg, _ := types.NewFileTarget(dir); return tg },
			remote:      &fakeRemote{handle: "x"},
			wantKind:    KindFileNotFound,
			wantMessage: "Error: File does not exist",
		},
		{
			name:        "missing gcs object",
			target:      func() types.ScanTarget { tg, _ := types.NewFileTarget("gs://uploads/none"); return tg },
			remote:      &fakeRemote{handle: "x"},
			fetcher:     &fakeFetcher{err: gcs.ErrObjectNotFound},
			wantKind:    KindFileNotFound,
			wantMessage: "Error: File does not exist",
		},
		{
			name:        "empty handle",
			target:      func() types.ScanTarget { tg, _ := types.NewURLTarget("example.com"); return tg },
			remote:      &fakeRemote{err: virustotal.ErrEmptyAnalysisID},
			wantKind:    KindMissingHandle,
			wantMessage: "Error: Could not get analysis ID",
		},
		{
			name:   "file upload rejected",
			target: func() types.ScanTarget { tg, _ := types.NewFileTarget(existing); return tg },
			remote: &fakeRemote{err: &virustotal.APIError{
				Code: virustotal.CodeService, StatusCode: http.StatusRequestEntityTooLarge,
			}},
			wantKind:    KindRemoteRejected,
			wantMessage: "Error uploading file. HTTP Status: 413",
		},
		{
			name:   "url rejected",
			target: func() types.ScanTarget { tg, _ := types.NewURLTarget("example.com"); return tg },
			remote: &fakeRemote{err: &virustotal.APIError{
				Code: virustotal.CodeService, StatusCode: http.StatusUnauthorized,
			}},
			wantKind:    KindRemoteRejected,
			wantMessage: "Error submitting URL. HTTP Status: 401",
		},
		{
			name:        "transport failure",
			target:      func() types.ScanTarget { tg, _ := types.NewURLTarget("example.com"); return tg },
			remote:      &fakeRemote{err: errors.New("dial tcp: connection refused")},
			wantKind:    KindTransport,
			wantMessage: "Error: dial tcp: connection refused",
		},
		{
			name:        "phone unsupported",
			target:      func() types.ScanTarget { tg, _ := types.NewPhoneTarget("+1 555 0100"); return tg },
			remote:      &fakeRemote{handle: "x"},
			wantKind:    KindUnsupportedTarget,
			wantMessage: "Error: phone number scanning is not supported by the analysis service",
		},
		{
			name:        "gcs without fetcher",
			target:      func() types.ScanTarget { tg, _ := types.NewFileTarget("gs://uploads/a.bin"); return tg },
			remote:      &fakeRemote{handle: "x"},
			wantKind:    KindTransport,
			wantMessage: "Error: gs:// targets require a configured object fetcher",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := newGateway(t, tt.remote, tt.fetcher)
			handle, err := g.Submit(context.Background(), tt.target())
			if err == nil {
				t.Fatalf("Submit() = %q, want error", handle)
			}

			var se *SubmissionError
			if !errors.As(err, &se) {
				t.Fatalf("error %T is not *SubmissionError", err)
			}
			if se.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", se.Kind, tt.wantKind)
			}
			if got := se.Message(); got != tt.wantMessage {
				t.Errorf("Message() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}
