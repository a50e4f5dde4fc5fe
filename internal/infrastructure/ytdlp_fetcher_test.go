package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/social-dl-go/internal/domain"
)

func TestClassifyFailure(t *testing.T) {
	exit := fmt.Errorf("exit status 1")

	tests := []struct {
		name    string
		phase   fetchPhase
		stderr  string
		err     error
		kind    domain.ErrorKind
		message string
	}{
		{
			name:    "removed video",
			phase:   phaseProbe,
			stderr:  "[youtube] abc: Downloading webpage\nERROR: [youtube] abc: Video unavailable. This video has been removed by the uploader\n",
			err:     exit,
			kind:    domain.KindVideoNotFound,
			message: "[youtube] abc: Video unavailable. This video has been removed by the uploader",
		},
		{
			name:   "private instagram post",
			phase:  phaseProbe,
			stderr: "ERROR: [Instagram] Cxyz: This account is private",
			err:    exit,
			kind:   domain.KindVideoNotFound,
		},
		{
			name:   "throttled",
			phase:  phaseDownload,
			stderr: "ERROR: unable to download video data: HTTP Error 429: Too Many Requests",
			err:    exit,
			kind:   domain.KindRateLimited,
		},
		{
			name:   "socket timeout",
			phase:  phaseDownload,
			stderr: "ERROR: The read operation timed out",
			err:    exit,
			kind:   domain.KindNetwork,
		},
		{
			name:    "retries exhausted",
			phase:   phaseDownload,
			stderr:  "[download] Got error: HTTP Error 503. Retrying (1/3)...\nERROR: giving up after 3 retries",
			err:     exit,
			kind:    domain.KindNetwork,
			message: "giving up after 3 retries",
		},
		{
			name:   "dns",
			phase:  phaseProbe,
			stderr: "ERROR: [tiktok] 7300: Unable to download webpage: <urlopen error [Errno -3] Temporary failure in name resolution>",
			err:    exit,
			kind:   domain.KindNetwork,
		},
		{
			name:   "format missing",
			phase:  phaseDownload,
			stderr: "ERROR: [youtube] abc: Requested format is not available. Use --list-formats for a list of available formats",
			err:    exit,
			kind:   domain.KindQualityNotAvailable,
		},
		{
			name:    "unrecognized while probing",
			phase:   phaseProbe,
			stderr:  "something went sideways",
			err:     exit,
			kind:    domain.KindNetwork,
			message: "something went sideways",
		},
		{
			name:   "unrecognized while downloading",
			phase:  phaseDownload,
			stderr: "ERROR: Postprocessing: Conversion failed!",
			err:    exit,
			kind:   domain.KindDownload,
		},
		{
			name:   "cancelled",
			phase:  phaseDownload,
			stderr: "ERROR: Video unavailable",
			err:    errors.Wrap(context.Canceled, "yt-dlp download"),
			kind:   domain.KindCancelled,
		},
		{
			name:  "deadline",
			phase: phaseDownload,
			err:   errors.Wrap(context.DeadlineExceeded, "yt-dlp download"),
			kind:  domain.KindNetwork,
		},
		{
			name:    "no stderr falls back to the error text",
			phase:   phaseDownload,
			err:     errors.New("exec: \"yt-dlp\": executable file not found in $PATH"),
			kind:    domain.KindDownload,
			message: "exec: \"yt-dlp\": executable file not found in $PATH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := classifyFailure(tt.phase, tt.stderr, tt.err)
			require.NotNil(t, fe)
			assert.Equal(t, tt.kind, fe.Kind)
			if tt.message != "" {
				assert.Equal(t, tt.message, fe.Message)
			}
			assert.ErrorIs(t, fe, tt.err)
		})
	}
}

func TestLastErrorLine(t *testing.T) {
	assert.Equal(t, "second", lastErrorLine("ERROR: first\nWARNING: noise\nERROR: second\n"))
	assert.Equal(t, "tail", lastErrorLine("head\n\ntail\n\n"))
	assert.Equal(t, "", lastErrorLine(""))
}

func TestProgressPercent(t *testing.T) {
	p, ok := progressPercent(50, 200)
	assert.True(t, ok)
	assert.Equal(t, 25, p)

	p, ok = progressPercent(300, 200)
	assert.True(t, ok)
	assert.Equal(t, 100, p)

	_, ok = progressPercent(10, 0)
	assert.False(t, ok, "unknown total reports nothing")
}

func TestProbeOutput_Info(t *testing.T) {
	raw := `{
		"title": "clip",
		"uploader": "",
		"channel": "chan",
		"duration": 12.5,
		"thumbnail": "https://img/1.jpg",
		"formats": [
			{"format_id": "140", "height": null, "ext": "m4a"},
			{"format_id": "137", "height": 1080, "ext": "mp4"},
			{"format_id": "22", "height": 720.0, "ext": "mp4"}
		]
	}`

	var out probeOutput
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	info := out.info()

	assert.Equal(t, domain.VideoMetadata{Title: "clip", Author: "chan", Duration: 12.5, Thumbnail: "https://img/1.jpg"}, info.Metadata)
	assert.Equal(t, []domain.Format{
		{ID: "140", Height: 0, Ext: "m4a"},
		{ID: "137", Height: 1080, Ext: "mp4"},
		{ID: "22", Height: 720, Ext: "mp4"},
	}, info.Formats)
}

func TestProbeOutput_SingleFormat(t *testing.T) {
	var out probeOutput
	require.NoError(t, json.Unmarshal([]byte(`{"title":"reel","uploader":"me","format_id":"dash-1","height":1920,"ext":"mp4"}`), &out))

	info := out.info()
	assert.Equal(t, "me", info.Metadata.Author)
	assert.Equal(t, []domain.Format{{ID: "dash-1", Height: 1920, Ext: "mp4"}}, info.Formats)
}

func TestNewYTDLPFetcher_DefaultBinary(t *testing.T) {
	f := NewYTDLPFetcher("", nil)
	assert.Equal(t, "yt-dlp", f.binary)
}
