// ABOUTME: Submission gateway turning scan targets into remote analysis handles
// ABOUTME: Validates local files, stages gs:// objects, and classifies remote failures

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/gcs"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/virustotal"
)

// Remote is the subset of the analysis service used for submission.
type Remote interface {
	UploadFile(ctx context.Context, filename string, content io.Reader) (types.AnalysisHandle, error)
	SubmitURL(ctx context.Context, target string) (types.AnalysisHandle, error)
}

// ObjectFetcher stages remote objects (gs:// URIs) on local disk.
type ObjectFetcher interface {
	Fetch(ctx context.Context, uri, sessionID string) (*gcs.Download, error)
}

// Config holds gateway dependencies.
type Config struct {
	Remote Remote

	// Fetcher is optional; without it gs:// file targets are rejected.
	Fetcher ObjectFetcher

	Logger *slog.Logger
}

// Gateway submits targets to the analysis service. It keeps no per-target state.
type Gateway struct {
	remote  Remote
	fetcher ObjectFetcher
	logger  *slog.Logger
}

// New creates a gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Remote == nil {
		return nil, errors.New("remote analysis client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		remote:  cfg.Remote,
		fetcher: cfg.Fetcher,
		logger:  logger.With(slog.String("component", "gateway")),
	}, nil
}

// Submit issues the initial scan request and returns the analysis handle.
// Every failure is a *SubmissionError.
func (g *Gateway) Submit(ctx context.Context, target types.ScanTarget) (types.AnalysisHandle, error) {
	ctx, span := otel.Tracer("hikmaai-sentinel/gateway").Start(ctx, "gateway.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("target.kind", target.Kind().String()))

	var (
		handle types.AnalysisHandle
		err    error
	)
	switch target.Kind() {
	case types.TargetKindFile:
		handle, err = g.submitFile(ctx, target.Value())
	case types.TargetKindURL:
		handle, err = g.submitURL(ctx, target.Value())
	case types.TargetKindPhone:
		err = &SubmissionError{Kind: KindUnsupportedTarget, TargetKind: types.TargetKindPhone}
	default:
		err = &SubmissionError{Kind: KindTransport, TargetKind: target.Kind(), Err: types.ErrEmptyTarget}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.WarnContext(ctx, "submission failed",
			slog.String("target_kind", target.Kind().String()),
			slog.String("kind", string(KindOf(err))),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	span.SetAttributes(attribute.String("analysis.id", handle.String()))
	g.logger.InfoContext(ctx, "target submitted",
		slog.String("target_kind", target.Kind().String()),
		slog.String("analysis_id", handle.String()),
	)
	return handle, nil
}

func (g *Gateway) submitURL(ctx context.Context, rawURL string) (types.AnalysisHandle, error) {
	handle, err := g.remote.SubmitURL(ctx, types.NormalizeURL(rawURL))
	if err != nil {
		return "", classifyRemote(types.TargetKindURL, err)
	}
	return handle, nil
}

func (g *Gateway) submitFile(ctx context.Context, path string) (types.AnalysisHandle, error) {
	name := filepath.Base(path)

	if gcs.IsGCSURI(path) {
		if g.fetcher == nil {
			return "", &SubmissionError{
				Kind:       KindTransport,
				TargetKind: types.TargetKindFile,
				Err:        errors.New("gs:// targets require a configured object fetcher"),
			}
		}
		dl, err := g.fetcher.Fetch(ctx, path, uuid.NewString())
		if err != nil {
			kind := KindTransport
			if errors.Is(err, gcs.ErrObjectNotFound) {
				kind = KindFileNotFound
			}
			return "", &SubmissionError{Kind: kind, TargetKind: types.TargetKindFile, Err: err}
		}
		defer func() {
			if err := dl.Cleanup(); err != nil {
				g.logger.WarnContext(ctx, "failed to remove staged object", slog.String("error", err.Error()))
			}
		}()
		path, name = dl.LocalPath, dl.Name
	}

	file, err := openRegular(path)
	if err != nil {
		return "", &SubmissionError{Kind: KindFileNotFound, TargetKind: types.TargetKindFile, Err: err}
	}
	defer file.Close()

	handle, err := g.remote.UploadFile(ctx, name, file)
	if err != nil {
		return "", classifyRemote(types.TargetKindFile, err)
	}
	return handle, nil
}

// openRegular opens path for reading if it is an existing regular file.
func openRegular(path string) (*os.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	return os.Open(path)
}

func classifyRemote(kind types.TargetKind, err error) error {
	var apiErr *virustotal.APIError
	switch {
	case errors.Is(err, virustotal.ErrEmptyAnalysisID):
		return &SubmissionError{Kind: KindMissingHandle, TargetKind: kind, Err: err}
	case errors.As(err, &apiErr) && apiErr.Code == virustotal.CodeDecode:
		return &SubmissionError{Kind: KindMissingHandle, TargetKind: kind, Err: err}
	case virustotal.StatusCode(err) != 0:
		return &SubmissionError{Kind: KindRemoteRejected, TargetKind: kind, StatusCode: virustotal.StatusCode(err), Err: err}
	default:
		return &SubmissionError{Kind: KindTransport, TargetKind: kind, Err: err}
	}
}
