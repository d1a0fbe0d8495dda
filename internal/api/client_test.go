package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/DoyleJ11/partidas/pkg/types"
)

type recorded struct {
	Method      string
	Path        string
	ContentType string
	RequestID   string
	Body        string
}

// recorder answers every request with the next canned response and keeps
// what it received.
type recorder struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	body     string
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, recorded{
		Method:      req.Method,
		Path:        req.URL.Path,
		ContentType: req.Header.Get("Content-Type"),
		RequestID:   req.Header.Get("X-Request-ID"),
		Body:        string(body),
	})
	status, resp := r.status, r.body
	r.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func (r *recorder) last(t *testing.T) recorded {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.requests)
	return r.requests[len(r.requests)-1]
}

func newTestClient(t *testing.T, rec *recorder, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api/", opts...)
	require.NoError(t, err)
	return c
}

func TestClient_WireFormat(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name        string
		call        func(c *Client) error
		method      string
		path        string
		contentType string
		body        string
	}{
		{
			name:   "list",
			call:   func(c *Client) error { _, err := c.ListGames(ctx); return err },
			method: http.MethodGet, path: "/api/games",
		},
		{
			name: "join",
			call: func(c *Client) error { _, err := c.JoinGame(ctx, 7, "Beto"); return err },
			method: http.MethodPost, path: "/api/games/7/join",
			contentType: "application/json", body: `{"playerName":"Beto"}`,
		},
		{
			name:   "start",
			call:   func(c *Client) error { _, err := c.StartGame(ctx, 7); return err },
			method: http.MethodPatch, path: "/api/games/7/start",
		},
		{
			name: "end",
			call: func(c *Client) error { _, err := c.EndGame(ctx, 7, map[string]int{"Ana": 10}); return err },
			method: http.MethodPatch, path: "/api/games/7/end",
			contentType: "application/json", body: `{"score":{"Ana":10}}`,
		},
		{
			name: "end without draft",
			call: func(c *Client) error { _, err := c.EndGame(ctx, 7, nil); return err },
			method: http.MethodPatch, path: "/api/games/7/end",
			contentType: "application/json", body: `{"score":{}}`,
		},
		{
			name:   "delete",
			call:   func(c *Client) error { return c.DeleteGame(ctx, 7) },
			method: http.MethodDelete, path: "/api/games/7",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{body: `[]`}
			c := newTestClient(t, rec)

			require.NoError(t, tc.call(c))

			got := rec.last(t)
			assert.Equal(t, tc.method, got.Method)
			assert.Equal(t, tc.path, got.Path)
			assert.Equal(t, tc.contentType, got.ContentType)
			assert.NotEmpty(t, got.RequestID)
			if tc.body != "" {
				assert.JSONEq(t, tc.body, got.Body)
			}
		})
	}
}

func TestClient_CreateGame(t *testing.T) {
	rec := &recorder{status: http.StatusCreated, body: `{"id": 42, "name": "Quiz", "state": "waiting", "players": ["Ana"]}`}
	c := newTestClient(t, rec)

	raw, err := c.CreateGame(context.Background(), types.CreateGameRequest{Name: "Quiz", MaxPlayers: 2, PlayerName: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, 42, raw.ID)
	assert.Equal(t, []string{"Ana"}, raw.Players)

	got := rec.last(t)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/games", got.Path)
	assert.Equal(t, "application/json", got.ContentType)
	assert.JSONEq(t, `{"name":"Quiz","maxPlayers":2,"playerName":"Ana"}`, got.Body)
}

func TestClient_CreateGame_WithoutIDIsMalformed(t *testing.T) {
	c := newTestClient(t, &recorder{body: `{"ok": true}`})
	_, err := c.CreateGame(context.Background(), types.CreateGameRequest{Name: "Quiz"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_ListGames_Lenient(t *testing.T) {
	c := newTestClient(t, &recorder{body: `[{"id": 1, "title": "Old"}, 5, {"id": 2, "players": null}]`})
	games, err := c.ListGames(context.Background())
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "Old", games[0].Title)
	assert.Nil(t, games[1].Players)

	c = newTestClient(t, &recorder{body: `{"games": []}`})
	_, err = c.ListGames(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_NonSuccessIsStatusError(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError} {
		c := newTestClient(t, &recorder{status: status, body: `{"ok": true, "id": 7}`})
		_, err := c.StartGame(context.Background(), 7)

		var se *StatusError
		require.True(t, errors.As(err, &se), "status %d", status)
		assert.Equal(t, status, se.StatusCode)
		assert.Equal(t, "start", se.Op)
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := New(srv.URL)
	require.NoError(t, err)
	srv.Close()

	err = c.DeleteGame(context.Background(), 1)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
	_, err = New("://nope")
	assert.Error(t, err)
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{Op: "end", StatusCode: 409, Body: "game not in progress"}
	assert.Equal(t, "end: unexpected status 409: game not in progress", err.Error())
	assert.Equal(t, "delete: unexpected status 500", (&StatusError{Op: "delete", StatusCode: 500}).Error())
}

func TestClient_StatusErrorBodyKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", maxSnippet-1) + "ñandú"
	c := newTestClient(t, &recorder{status: http.StatusConflict, body: body})
	_, err := c.StartGame(context.Background(), 1)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, utf8.ValidString(se.Body))
	assert.Equal(t, strings.Repeat("a", maxSnippet-1), se.Body)
}

func TestClient_Spans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	rec := &recorder{status: http.StatusConflict, body: `{"error":"not waiting"}`}
	c := newTestClient(t, rec, WithTracerProvider(tp))

	_, err := c.StartGame(context.Background(), 4)
	require.Error(t, err)
	rec.mu.Lock()
	rec.status, rec.body = http.StatusOK, `[]`
	rec.mu.Unlock()
	_, err = c.ListGames(context.Background())
	require.NoError(t, err)

	ended := spans.Ended()
	require.Len(t, ended, 2)

	start := ended[0]
	assert.Equal(t, "partidas.api.start", start.Name())
	assert.Equal(t, trace.SpanKindClient, start.SpanKind())
	assert.Equal(t, codes.Error, start.Status().Code)
	assert.Contains(t, start.Attributes(), attribute.Int("partidas.game_id", 4))
	assert.Contains(t, start.Attributes(), attribute.Int("http.status_code", http.StatusConflict))

	list := ended[1]
	assert.Equal(t, "partidas.api.list", list.Name())
	assert.Equal(t, codes.Unset, list.Status().Code)
	for _, kv := range list.Attributes() {
		assert.NotEqual(t, attribute.Key("partidas.game_id"), kv.Key)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "a", truncate("añ", 2))
	assert.Equal(t, "", truncate("ñ", 1))
}
