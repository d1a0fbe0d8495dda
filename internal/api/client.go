// Package api is the HTTP client of the remote game-management service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/DoyleJ11/partidas/internal/metrics"
	"github.com/DoyleJ11/partidas/pkg/types"
)

var ErrTransport = errors.New("transport failure")
var ErrMalformedResponse = errors.New("malformed response")

const (
	maxBody    = 1 << 20
	maxSnippet = 200
	tracerName = "github.com/DoyleJ11/partidas/internal/api"
)

// StatusError is returned for every non-2xx reply, whatever its payload.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

type Client struct {
	base    *url.URL
	http    *http.Client
	log     *zap.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithLogger(l *zap.Logger) Option       { return func(c *Client) { c.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithTracerProvider records request spans on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// WithTimeout bounds every request. Zero, the default, means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d, Transport: c.http.Transport} }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{},
		log:    zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("api")
	return c, nil
}

// BaseURL is the configured service root.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) ListGames(ctx context.Context) ([]types.RawGame, error) {
	body, err := c.do(ctx, "list", http.MethodGet, "/games", nil, 0)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("list: %w: %v", ErrMalformedResponse, err)
	}
	games := make([]types.RawGame, 0, len(items))
	for _, item := range items {
		var raw types.RawGame
		if err := json.Unmarshal(item, &raw); err != nil {
			c.log.Warn("skipping non-object game record", zap.ByteString("item", item))
			continue
		}
		games = append(games, raw)
	}
	return games, nil
}

func (c *Client) CreateGame(ctx context.Context, req types.CreateGameRequest) (types.RawGame, error) {
	body, err := c.do(ctx, "create", http.MethodPost, "/games", req, 0)
	if err != nil {
		return types.RawGame{}, err
	}
	var raw types.RawGame
	if err := json.Unmarshal(body, &raw); err != nil || raw.ID == 0 {
		return types.RawGame{}, fmt.Errorf("create: %w: no game id in response", ErrMalformedResponse)
	}
	return raw, nil
}

// JoinGame returns the response body as is; its shape is up to the service.
func (c *Client) JoinGame(ctx context.Context, id int, playerName string) ([]byte, error) {
	return c.do(ctx, "join", http.MethodPost, gamePath(id, "join"), types.JoinRequest{PlayerName: playerName}, id)
}

func (c *Client) StartGame(ctx context.Context, id int) ([]byte, error) {
	return c.do(ctx, "start", http.MethodPatch, gamePath(id, "start"), nil, id)
}

func (c *Client) EndGame(ctx context.Context, id int, score map[string]int) ([]byte, error) {
	if score == nil {
		score = map[string]int{}
	}
	return c.do(ctx, "end", http.MethodPatch, gamePath(id, "end"), types.EndRequest{Score: score}, id)
}

func (c *Client) DeleteGame(ctx context.Context, id int) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, gamePath(id, ""), nil, id)
	return err
}

func gamePath(id int, action string) string {
	p := "/games/" + strconv.Itoa(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any, gameID int) (body []byte, err error) {
	ctx, span := c.tracer.Start(ctx, "partidas.api."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("http.method", method), attribute.String("partidas.op", op))
	if gameID != 0 {
		span.SetAttributes(attribute.Int("partidas.game_id", gameID))
	}
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.metrics.ObserveAPI(op, outcome, time.Since(start))
		span.End()
	}()

	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: read body: %w", op, ErrTransport, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := truncate(strings.TrimSpace(string(body)), maxSnippet)
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: snippet}
	}

	c.log.Debug("request done",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)
	return body, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
