// Package provider resolves raw media references into playable sources. The
// core only depends on the playlist.MetadataResolver contract; this package
// supplies the YouTube Data API implementation.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/watchparty/internal/playlist"
)

const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

// ErrNoVideo means the reference did not resolve to a playable video.
var ErrNoVideo = errors.New("no video found for reference")

// YouTubeClient resolves YouTube URLs and video IDs via the Data API v3
// videos endpoint.
type YouTubeClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewYouTubeClient(apiKey, baseURL string, timeout time.Duration) *YouTubeClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YouTubeClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

type ytVideosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title      string `json:"title"`
			Thumbnails struct {
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
				Medium struct {
					URL string `json:"url"`
				} `json:"medium"`
				High struct {
					URL string `json:"url"`
				} `json:"high"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Resolve looks up the video the reference names and returns its immutable
// source description.
func (c *YouTubeClient) Resolve(ctx context.Context, ref string) (playlist.MediaSource, error) {
	videoID, err := ExtractVideoID(ref)
	if err != nil {
		return playlist.MediaSource{}, err
	}

	val := url.Values{}
	val.Set("part", "snippet,contentDetails")
	val.Set("id", videoID)
	val.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos?"+val.Encode(), nil)
	if err != nil {
		return playlist.MediaSource{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return playlist.MediaSource{}, fmt.Errorf("youtube request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return playlist.MediaSource{}, fmt.Errorf("youtube status %d", resp.StatusCode)
	}

	var body ytVideosResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return playlist.MediaSource{}, fmt.Errorf("decode youtube response: %w", err)
	}
	if len(body.Items) == 0 {
		return playlist.MediaSource{}, fmt.Errorf("%w: %s", ErrNoVideo, ref)
	}

	item := body.Items[0]
	duration, err := ParseISODuration(item.ContentDetails.Duration)
	if err != nil {
		return playlist.MediaSource{}, fmt.Errorf("parse duration %q: %w", item.ContentDetails.Duration, err)
	}

	thumbs := item.Snippet.Thumbnails
	thumb := thumbs.High.URL
	if thumb == "" {
		thumb = thumbs.Medium.URL
	}
	if thumb == "" {
		thumb = thumbs.Default.URL
	}

	return playlist.MediaSource{
		ID:               item.ID,
		Title:            item.Snippet.Title,
		ThumbnailURL:     thumb,
		TotalTimeSeconds: duration.Seconds(),
		ProviderRef:      "youtube:" + item.ID,
	}, nil
}

var (
	videoIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	isoDurationExpr = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)
)

// ExtractVideoID pulls the 11-character video ID out of the common YouTube
// URL shapes, or accepts a bare ID.
func ExtractVideoID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if videoIDPattern.MatchString(ref) {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoVideo, ref)
	}

	var id string
	switch {
	case strings.HasSuffix(u.Host, "youtu.be"):
		id = strings.TrimPrefix(u.Path, "/")
	case strings.Contains(u.Host, "youtube.com"):
		if strings.HasPrefix(u.Path, "/embed/") {
			id = strings.TrimPrefix(u.Path, "/embed/")
		} else {
			id = u.Query().Get("v")
		}
	}
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %s", ErrNoVideo, ref)
	}
	return id, nil
}

// ParseISODuration parses the ISO-8601 duration subset the Data API emits
// (PT#H#M#S).
func ParseISODuration(raw string) (time.Duration, error) {
	m := isoDurationExpr.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("malformed ISO-8601 duration")
	}
	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, err
		}
		total += time.Duration(n) * unit
	}
	return total, nil
}
