package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/internal/domain"
	"github.com/yourusername/social-dl-go/pkg/logger"
)

// Outcome is the closed result of one fetch: exactly one of Result and
// Failure is set.
type Outcome struct {
	Result  *domain.FetchResult
	Failure *domain.FetchError
}

// Succeeded reports whether the fetch produced an artifact
func (o Outcome) Succeeded() bool {
	return o.Failure == nil && o.Result != nil
}

func success(result *domain.FetchResult) Outcome {
	return Outcome{Result: result}
}

func failure(kind domain.ErrorKind, message string, err error) Outcome {
	return Outcome{Failure: domain.NewFetchError(kind, message, err)}
}

const maxFilenameAttempts = 8

// FetchExecutor performs exactly one probe and download through a Fetcher,
// writing into the download directory under a fresh file name
type FetchExecutor struct {
	fetcher     domain.Fetcher
	downloadDir string
	newSuffix   func() string
	log         *logger.LoggerAdapter
}

// NewFetchExecutor creates an executor writing into downloadDir
func NewFetchExecutor(fetcher domain.Fetcher, downloadDir string, log *logger.LoggerAdapter) *FetchExecutor {
	return &FetchExecutor{
		fetcher:     fetcher,
		downloadDir: downloadDir,
		newSuffix:   randomSuffix,
		log:         log,
	}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Execute probes url, checks the quality constraint and downloads it. Metadata
// and progress are reported through progress. Execute never panics and never
// returns an unclassified error.
func (e *FetchExecutor) Execute(ctx context.Context, url string, opts domain.FetchOptions, progress domain.ProgressFunc) (out Outcome) {
	if progress == nil {
		progress = func(domain.ProgressUpdate) {}
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.LogError(logger.CategorySession, "Fetcher panicked",
				zap.String("url", url),
				zap.Any("panic", r))
			out = failure(domain.KindUnknown, fmt.Sprintf("fetcher panicked: %v", r), nil)
		}
	}()

	if err := ctx.Err(); err != nil {
		return classify(ctx, err)
	}

	path, err := e.reservePath(opts.Platform)
	if err != nil {
		return failure(domain.KindDownload, err.Error(), err)
	}
	opts.OutputPath = path

	info, err := e.fetcher.Probe(ctx, url, opts)
	if err != nil {
		return classify(ctx, err)
	}
	if info == nil {
		info = &domain.VideoInfo{}
	}
	if !info.Metadata.IsZero() {
		meta := info.Metadata
		progress(domain.ProgressUpdate{Metadata: &meta})
	}

	if !Satisfiable(opts, info.Formats) {
		return failure(domain.KindQualityNotAvailable,
			fmt.Sprintf("requested quality %s not available (best available %dp)", opts.Quality, bestHeight(info.Formats)), nil)
	}

	e.log.General().Debug("Starting download",
		zap.String("url", url),
		zap.String("format", opts.Format),
		zap.String("output", path))

	result, err := e.fetcher.Download(ctx, url, opts, progress)
	if err != nil {
		removeQuietly(path)
		return classify(ctx, err)
	}
	if result == nil {
		result = &domain.FetchResult{}
	}
	if result.FilePath == "" {
		result.FilePath = path
	}
	if _, err := os.Stat(result.FilePath); err != nil {
		return failure(domain.KindDownload, "download finished without producing a file", err)
	}
	if result.Metadata.IsZero() {
		result.Metadata = info.Metadata
	}
	return success(result)
}

// reservePath picks a file name that does not exist yet in the download
// directory, creating the directory if needed
func (e *FetchExecutor) reservePath(platform domain.Platform) (string, error) {
	if err := os.MkdirAll(e.downloadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	for i := 0; i < maxFilenameAttempts; i++ {
		path := filepath.Join(e.downloadDir, fmt.Sprintf("%s_%s.mp4", platform, e.newSuffix()))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
	}
	return "", fmt.Errorf("could not find a free file name in %s", e.downloadDir)
}

// classify turns any fetcher error into a failure outcome. Errors caused by a
// cancelled context win over whatever the fetcher reported.
func classify(ctx context.Context, err error) Outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) {
			return failure(domain.KindCancelled, "download cancelled", err)
		}
		return failure(domain.KindNetwork, "download timed out", err)
	}

	var fe *domain.FetchError
	if errors.As(err, &fe) {
		return Outcome{Failure: fe}
	}
	return failure(domain.KindOf(err), err.Error(), err)
}

// removeQuietly drops a partial artifact left behind by a failed download
func removeQuietly(path string) {
	_ = os.Remove(path)
}
