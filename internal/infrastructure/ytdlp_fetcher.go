package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/internal/domain"
)

const progressInterval = 500 * time.Millisecond

// YTDLPFetcher implements domain.Fetcher on top of the yt-dlp binary
type YTDLPFetcher struct {
	binary string
	logger *zap.Logger
}

// NewYTDLPFetcher creates a fetcher running the given yt-dlp executable
func NewYTDLPFetcher(binary string, logger *zap.Logger) *YTDLPFetcher {
	if binary == "" {
		binary = "yt-dlp"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YTDLPFetcher{
		binary: binary,
		logger: logger,
	}
}

// probeOutput is the subset of yt-dlp's --dump-single-json we read
type probeOutput struct {
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Channel   string  `json:"channel"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	Height    float64 `json:"height"`
	Ext       string  `json:"ext"`
	FormatID  string  `json:"format_id"`
	Formats   []struct {
		FormatID string  `json:"format_id"`
		Height   float64 `json:"height"`
		Ext      string  `json:"ext"`
	} `json:"formats"`
}

func (p *probeOutput) info() *domain.VideoInfo {
	author := p.Uploader
	if author == "" {
		author = p.Channel
	}

	info := &domain.VideoInfo{
		Metadata: domain.VideoMetadata{
			Title:     p.Title,
			Author:    author,
			Duration:  p.Duration,
			Thumbnail: p.Thumbnail,
		},
	}
	for _, f := range p.Formats {
		info.Formats = append(info.Formats, domain.Format{ID: f.FormatID, Height: int(f.Height), Ext: f.Ext})
	}
	// Single-format extractors report the rendition at the top level
	if len(info.Formats) == 0 && p.Height > 0 {
		info.Formats = append(info.Formats, domain.Format{ID: p.FormatID, Height: int(p.Height), Ext: p.Ext})
	}
	return info
}

// Probe resolves metadata and available formats without downloading
func (f *YTDLPFetcher) Probe(ctx context.Context, url string, opts domain.FetchOptions) (*domain.VideoInfo, error) {
	cmd := f.command(opts).
		DumpSingleJSON().
		SkipDownload().
		NoPlaylist()

	result, err := f.run(ctx, cmd, "probe", url)
	if err != nil {
		return nil, classifyFailure(phaseProbe, stderrOf(result), err)
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(result.Stdout), &out); err != nil {
		return nil, domain.NewFetchError(domain.KindUnknown, "unreadable extractor output",
			errors.Wrap(err, "decode yt-dlp json"))
	}
	return out.info(), nil
}

// Download transfers the media to opts.OutputPath, merging video and audio
// into mp4
func (f *YTDLPFetcher) Download(ctx context.Context, url string, opts domain.FetchOptions, progress domain.ProgressFunc) (*domain.FetchResult, error) {
	cmd := f.command(opts).
		Format(opts.Format).
		Output(opts.OutputPath).
		NoOverwrites().
		NoPlaylist().
		MergeOutputFormat("mp4")

	if progress != nil {
		cmd.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
			if percent, ok := progressPercent(update.DownloadedBytes, update.TotalBytes); ok {
				progress(domain.ProgressUpdate{Percent: percent})
			}
		})
	}

	result, err := f.run(ctx, cmd, "download", url)
	if err != nil {
		return nil, classifyFailure(phaseDownload, stderrOf(result), err)
	}

	fetched := &domain.FetchResult{FilePath: opts.OutputPath}
	if infos, err := result.GetExtractedInfo(); err == nil && len(infos) > 0 {
		if infos[0].Title != nil {
			fetched.Metadata.Title = *infos[0].Title
		}
	}
	return fetched, nil
}

func (f *YTDLPFetcher) command(opts domain.FetchOptions) *ytdlp.Command {
	cmd := ytdlp.New().SetExecutable(f.binary)
	if opts.SocketTimeout > 0 {
		cmd.SocketTimeout(opts.SocketTimeout.Seconds())
	}
	if opts.Retries > 0 {
		cmd.Retries(strconv.Itoa(opts.Retries))
	}
	return cmd
}

func (f *YTDLPFetcher) run(ctx context.Context, cmd *ytdlp.Command, op, url string) (*ytdlp.Result, error) {
	start := time.Now()
	result, err := cmd.Run(ctx, url)

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("url", url),
		zap.Duration("took", time.Since(start)),
	}
	if result != nil {
		fields = append(fields,
			zap.String("command", FormatCommand(result.Executable, result.Args...)),
			zap.Int("exit_code", result.ExitCode))
	}

	if err != nil {
		f.logger.Warn("yt-dlp failed", append(fields, zap.Error(err))...)
		return result, errors.Wrapf(err, "yt-dlp %s", op)
	}
	f.logger.Debug("yt-dlp finished", fields...)
	return result, nil
}

func stderrOf(result *ytdlp.Result) string {
	if result == nil {
		return ""
	}
	return result.Stderr
}

// progressPercent converts byte counters into 0..100. Unknown totals report
// nothing.
func progressPercent(downloaded, total int) (int, bool) {
	if total <= 0 || downloaded < 0 {
		return 0, false
	}
	percent := int(float64(downloaded) / float64(total) * 100)
	if percent > 100 {
		percent = 100
	}
	return percent, true
}

type fetchPhase int

const (
	phaseProbe fetchPhase = iota
	phaseDownload
)

var (
	notFoundMarkers = []string{
		"video unavailable",
		"private video",
		"this video is private",
		"has been removed",
		"does not exist",
		"http error 404",
		"unsupported url",
		"no video formats found",
		"account is private",
	}
	rateLimitMarkers = []string{
		"http error 429",
		"too many requests",
		"rate-limit",
		"rate limit",
	}
	networkMarkers = []string{
		"timed out",
		"connection reset",
		"connection refused",
		"temporary failure in name resolution",
		"network is unreachable",
		"no route to host",
		"unable to download webpage",
		"ssl:",
		"eof occurred",
		"giving up after",
	}
	qualityMarkers = []string{
		"requested format is not available",
	}
)

// classifyFailure maps a yt-dlp failure to an error kind from its stderr.
// Cancellation and deadlines win over the text. Anything unrecognized is a
// network error while probing and a download error afterwards.
func classifyFailure(phase fetchPhase, stderr string, err error) *domain.FetchError {
	cause := errors.Cause(err)
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(cause, context.Canceled):
		return domain.NewFetchError(domain.KindCancelled, "download cancelled", err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(cause, context.DeadlineExceeded):
		return domain.NewFetchError(domain.KindNetwork, "extractor timed out", err)
	}

	text := stderr
	if text == "" && err != nil {
		text = err.Error()
	}
	message := lastErrorLine(text)
	lower := strings.ToLower(text)

	kind := domain.KindDownload
	if phase == phaseProbe {
		kind = domain.KindNetwork
	}
	switch {
	case containsAny(lower, notFoundMarkers):
		kind = domain.KindVideoNotFound
	case containsAny(lower, qualityMarkers):
		kind = domain.KindQualityNotAvailable
	case containsAny(lower, rateLimitMarkers):
		kind = domain.KindRateLimited
	case containsAny(lower, networkMarkers):
		kind = domain.KindNetwork
	}
	return domain.NewFetchError(kind, message, err)
}

// lastErrorLine picks the most specific line of yt-dlp output: the last one
// starting with "ERROR:", else the last non-empty line
func lastErrorLine(text string) string {
	var last string
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
		if last == "" {
			last = line
		}
	}
	return last
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
