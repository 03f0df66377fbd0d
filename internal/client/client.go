// Package client talks to the interview API: it loads sessions, submits
// answers and completes sessions. It implements engine.Loader and
// engine.Sink.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/stemsi/interview-engine/internal/model"
)

const (
	tracerName   = "github.com/stemsi/interview-engine/internal/client"
	maxBodyBytes = 4 << 20
)

type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
	log     zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Client {
	h := &http.Client{}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		h = oauth2.NewClient(context.Background(), ts)
	}
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    h,
		tracer:  otel.Tracer(tracerName),
		log:     log,
	}
}

type requestIDKey struct{}

// WithRequestID stores id so outgoing calls carry it as X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id stored by WithRequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// LoadSession fetches GET /sessions/{id}.
func (c *Client) LoadSession(ctx context.Context, id model.ID) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := c.do(ctx, "load_session", http.MethodGet, sessionPath(id, ""), nil, &snap); err != nil {
		return nil, err
	}
	snap.Normalize()
	return &snap, nil
}

// SubmitAnswer posts one answer. Any 2xx is success.
func (c *Client) SubmitAnswer(ctx context.Context, sessionID model.ID, p model.AnswerPayload) error {
	return c.do(ctx, "submit_answer", http.MethodPost, sessionPath(sessionID, "/answers"), p, nil)
}

// CompleteSession posts the completion request and returns the summary.
func (c *Client) CompleteSession(ctx context.Context, id model.ID, req model.CompleteRequest) (*model.CompletionSummary, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "complete_session", http.MethodPost, sessionPath(id, "/complete"), req, &raw); err != nil {
		return nil, err
	}
	summary := &model.CompletionSummary{Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, summary); err != nil {
			// The summary only feeds the results view; keep the raw body.
			c.log.Warn().Err(err).Str("session_id", id.String()).Msg("Unrecognised completion summary")
		}
	}
	return summary, nil
}

func sessionPath(id model.ID, suffix string) string {
	return "/sessions/" + url.PathEscape(id.String()) + suffix
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "interview_api."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := RequestIDFrom(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	c.log.Debug().
		Str("op", op).
		Str("path", path).
		Int("status", res.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Interview API call")

	if res.StatusCode/100 != 2 {
		apiErr := &APIError{Op: op, StatusCode: res.StatusCode, Detail: parseDetail(raw)}
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}
