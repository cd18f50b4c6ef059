package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "bare id", ref: "dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "bare id with whitespace", ref: "  dQw4w9WgXcQ\n", want: "dQw4w9WgXcQ"},
		{name: "watch url", ref: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "watch url with extra params", ref: "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", want: "dQw4w9WgXcQ"},
		{name: "short url", ref: "https://youtu.be/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "embed url", ref: "https://www.youtube.com/embed/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "music subdomain", ref: "https://music.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "wrong host", ref: "https://vimeo.com/12345", wantErr: true},
		{name: "id too short", ref: "abc123", wantErr: true},
		{name: "empty", ref: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractVideoID(tt.ref)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNoVideo)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "PT3M32S", want: 3*time.Minute + 32*time.Second},
		{raw: "PT1H2M3S", want: time.Hour + 2*time.Minute + 3*time.Second},
		{raw: "PT45S", want: 45 * time.Second},
		{raw: "PT2H", want: 2 * time.Hour},
		{raw: "PT", want: 0},
		{raw: "P1DT2H", wantErr: true},
		{raw: "3m32s", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseISODuration(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func fakeVideosAPI(t *testing.T, items []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/videos", r.URL.Path)
		require.Equal(t, "snippet,contentDetails", r.URL.Query().Get("part"))
		require.NotEmpty(t, r.URL.Query().Get("key"))
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"items": items}))
	}))
}

func TestResolve(t *testing.T) {
	server := fakeVideosAPI(t, []map[string]any{{
		"id": "dQw4w9WgXcQ",
		"snippet": map[string]any{
			"title": "Never Gonna Give You Up",
			"thumbnails": map[string]any{
				"default": map[string]any{"url": "https://i.ytimg.com/default.jpg"},
				"high":    map[string]any{"url": "https://i.ytimg.com/high.jpg"},
			},
		},
		"contentDetails": map[string]any{"duration": "PT3M32S"},
	}})
	defer server.Close()

	client := NewYouTubeClient("test-key", server.URL, time.Second)
	src, err := client.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)

	assert.Equal(t, "dQw4w9WgXcQ", src.ID)
	assert.Equal(t, "Never Gonna Give You Up", src.Title)
	assert.Equal(t, "https://i.ytimg.com/high.jpg", src.ThumbnailURL)
	assert.InDelta(t, 212.0, src.TotalTimeSeconds, 1e-9)
	assert.Equal(t, "youtube:dQw4w9WgXcQ", src.ProviderRef)
}

func TestResolveFallsBackToSmallerThumbnail(t *testing.T) {
	server := fakeVideosAPI(t, []map[string]any{{
		"id": "dQw4w9WgXcQ",
		"snippet": map[string]any{
			"title": "some video",
			"thumbnails": map[string]any{
				"default": map[string]any{"url": "https://i.ytimg.com/default.jpg"},
			},
		},
		"contentDetails": map[string]any{"duration": "PT10S"},
	}})
	defer server.Close()

	client := NewYouTubeClient("test-key", server.URL, time.Second)
	src, err := client.Resolve(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "https://i.ytimg.com/default.jpg", src.ThumbnailURL)
}

func TestResolveUnknownVideo(t *testing.T) {
	server := fakeVideosAPI(t, []map[string]any{})
	defer server.Close()

	client := NewYouTubeClient("test-key", server.URL, time.Second)
	_, err := client.Resolve(context.Background(), "dQw4w9WgXcQ")
	require.ErrorIs(t, err, ErrNoVideo)
}

func TestResolveUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewYouTubeClient("bad-key", server.URL, time.Second)
	_, err := client.Resolve(context.Background(), "dQw4w9WgXcQ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestResolveRejectsMalformedRefWithoutRequest(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewYouTubeClient("test-key", server.URL, time.Second)
	_, err := client.Resolve(context.Background(), "not a video")
	require.ErrorIs(t, err, ErrNoVideo)
	assert.False(t, called)
}
