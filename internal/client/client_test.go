package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/watchparty/internal/playlist"
	"github.com/mcdev12/watchparty/internal/session"
)

type stubResolver struct {
	durations map[string]float64
}

func (r *stubResolver) Resolve(ctx context.Context, ref string) (playlist.MediaSource, error) {
	d, ok := r.durations[ref]
	if !ok {
		return playlist.MediaSource{}, fmt.Errorf("unknown ref %q", ref)
	}
	return playlist.MediaSource{
		ID:               ref,
		Title:            "video " + ref,
		TotalTimeSeconds: d,
		ProviderRef:      "youtube:" + ref,
	}, nil
}

func newTestServer(t *testing.T, durations map[string]float64) (*playlist.Store, string) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	store := playlist.NewStore(&stubResolver{durations: durations}, nil, clock)
	registry := session.NewRegistry(store, session.DefaultConfig(), clock)
	store.Subscribe(registry)

	mux := http.NewServeMux()
	session.NewHandler(registry).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return store, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dialRunning(t *testing.T, serverURL string) *Client {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	c, err := Dial(ctx, serverURL, "tester", clockwork.NewFakeClock())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return c
}

func TestClientMirrorsServerState(t *testing.T) {
	_, serverURL := newTestServer(t, map[string]float64{"A": 10, "B": 20})
	c := dialRunning(t, serverURL)

	ctx := context.Background()
	require.NoError(t, c.Enqueue(ctx, "A", ""))
	require.NoError(t, c.Enqueue(ctx, "B", "A"))

	require.Eventually(t, func() bool {
		state := c.Projector().Snapshot()
		return len(state.Queue) == 2 && state.CurrentID == "A"
	}, 2*time.Second, 10*time.Millisecond)

	state := c.Projector().Snapshot()
	assert.Equal(t, "A", state.Queue[0].ID)
	assert.Equal(t, "B", state.Queue[1].ID)
}

func TestClientSeesOtherClientsMutations(t *testing.T) {
	_, serverURL := newTestServer(t, map[string]float64{"A": 10})
	watcher := dialRunning(t, serverURL)
	actor := dialRunning(t, serverURL)

	require.NoError(t, actor.Enqueue(context.Background(), "A", ""))

	require.Eventually(t, func() bool {
		return watcher.Projector().Snapshot().CurrentID == "A"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientCommandRejection(t *testing.T) {
	_, serverURL := newTestServer(t, map[string]float64{"A": 10})
	c := dialRunning(t, serverURL)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "A", ""))

	err := c.Enqueue(ctx, "A", "")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, playlist.ErrorCodeDuplicate, cmdErr.Code)

	err = c.Remove(ctx, "ghost")
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, playlist.ErrorCodeNotFound, cmdErr.Code)

	err = c.Move(ctx, "A", "ghost")
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, playlist.ErrorCodeNotFound, cmdErr.Code)
}

func TestClientReceivesSnapshotFirst(t *testing.T) {
	store, serverURL := newTestServer(t, map[string]float64{"A": 10})
	_, err := store.Enqueue(context.Background(), "A", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := Dial(ctx, serverURL, "tester", clockwork.NewFakeClock())
	require.NoError(t, err)

	var mu sync.Mutex
	var types []playlist.EventType
	c.OnEvent = func(event playlist.Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, event.Type)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, playlist.EventTypeReplaced, types[0])
	mu.Unlock()

	assert.Equal(t, "A", c.Projector().Snapshot().CurrentID)

	cancel()
	require.NoError(t, <-done)
}

func TestClientChatRoundTrip(t *testing.T) {
	_, serverURL := newTestServer(t, nil)
	speaker := dialRunning(t, serverURL)
	listener := dialRunning(t, serverURL)

	var mu sync.Mutex
	var heard []playlist.ChatMessage
	listener.OnChat = func(msg playlist.ChatMessage) {
		mu.Lock()
		defer mu.Unlock()
		heard = append(heard, msg)
	}

	require.NoError(t, speaker.Chat(context.Background(), "anyone around?"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(heard) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "tester", heard[0].DisplayName)
	assert.Equal(t, "anyone around?", heard[0].Text)
	mu.Unlock()
}

func TestClientChatRejection(t *testing.T) {
	_, serverURL := newTestServer(t, nil)
	c := dialRunning(t, serverURL)

	err := c.Chat(context.Background(), "   ")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "bad_request", cmdErr.Code)
}

func TestRunReleasesWatcherOnReadError(t *testing.T) {
	_, serverURL := newTestServer(t, nil)
	ctx := context.Background()

	baseline := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		c, err := Dial(ctx, serverURL, "tester", clockwork.NewFakeClock())
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() { done <- c.Run(ctx) }()

		// Force a read error while ctx is still live; the context watcher
		// must not outlive Run.
		require.NoError(t, c.Close())
		require.Error(t, <-done)
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClientCommandContextCancellation(t *testing.T) {
	_, serverURL := newTestServer(t, map[string]float64{"A": 10})
	c := dialRunning(t, serverURL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Enqueue(ctx, "A", "")
	require.ErrorIs(t, err, context.Canceled)
}
