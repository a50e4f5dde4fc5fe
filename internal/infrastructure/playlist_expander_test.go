package infrastructure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaylistID(t *testing.T) {
	tests := []struct {
		url     string
		id      string
		wantErr bool
	}{
		{"https://www.youtube.com/playlist?list=PL123abc", "PL123abc", false},
		{"https://www.youtube.com/watch?v=xyz&list=PL9&index=2", "PL9", false},
		{"  https://youtube.com/playlist?list=OLAK5uy_k  ", "OLAK5uy_k", false},
		{"https://www.youtube.com/watch?v=xyz", "", true},
		{"://bad", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, err := PlaylistID(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestYouTubePlaylistExpander_Expand(t *testing.T) {
	e := NewYouTubePlaylistExpander(time.Second, nil)

	var gotID string
	e.videoIDs = func(ctx context.Context, playlistID string) ([]string, error) {
		gotID = playlistID
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return []string{"a1", "", "b2", "a1", "c3"}, nil
	}

	urls, err := e.Expand(context.Background(), "https://www.youtube.com/playlist?list=PLx")
	require.NoError(t, err)
	assert.Equal(t, "PLx", gotID)
	assert.Equal(t, []string{
		"https://www.youtube.com/watch?v=a1",
		"https://www.youtube.com/watch?v=b2",
		"https://www.youtube.com/watch?v=c3",
	}, urls)
}

func TestYouTubePlaylistExpander_Errors(t *testing.T) {
	e := NewYouTubePlaylistExpander(0, nil)
	assert.Equal(t, defaultPlaylistTimeout, e.timeout)

	_, err := e.Expand(context.Background(), "https://www.youtube.com/watch?v=only")
	assert.Error(t, err)

	boom := errors.New("innertube said no")
	e.videoIDs = func(context.Context, string) ([]string, error) { return nil, boom }
	_, err = e.Expand(context.Background(), "https://www.youtube.com/playlist?list=PLx")
	assert.ErrorIs(t, err, boom)
}
