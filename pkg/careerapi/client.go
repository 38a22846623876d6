// Package careerapi is a typed client for the career platform roadmap API.
package careerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	apiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "career_api",
		Name:      "request_duration_seconds",
		Help:      "Duration of career API requests",
	}, []string{"operation"})

	apiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "career_api",
		Name:      "request_failures_total",
		Help:      "Number of failed career API requests",
	}, []string{"operation"})
)

const (
	pathGenerate   = "/roadmap/generate"
	pathCurrent    = "/roadmap/current"
	pathSelect     = "/roadmap/select"
	pathRegenerate = "/roadmap/regenerate-course"
	pathComplete   = "/roadmap/complete-course"
	pathProgress   = "/roadmap/progress"
	pathCourses    = "/courses/"
)

// TokenSource yields the bearer credential for outgoing requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer credential.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Config configures the client.
type Config struct {
	BaseURL string
	// Timeout of zero leaves failure signaling to the transport.
	Timeout    time.Duration
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     zerolog.Logger
}

// Client talks to the career API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// New builds a client from the provided configuration.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("career api base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse career api base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		tokens:  cfg.Tokens,
		tracer:  otel.Tracer("github.com/noah-isme/gema-roadmap/pkg/careerapi"),
		logger:  cfg.Logger.With().Str("component", "career_api").Logger(),
	}, nil
}

// WithTokenSource returns a copy of the client that authenticates with tokens.
func (c *Client) WithTokenSource(tokens TokenSource) *Client {
	clone := *c
	clone.tokens = tokens
	return &clone
}

// Generate triggers (re)generation of roadmap suggestions.
func (c *Client) Generate(ctx context.Context) (GenerateResult, error) {
	status, body, err := c.doJSON(ctx, "generate", http.MethodPost, pathGenerate, struct{}{})
	if err != nil {
		return GenerateResult{}, err
	}
	return GenerateResult{Accepted: status == http.StatusAccepted, Raw: unwrap(body)}, nil
}

// Current fetches the user's current roadmap status and suggestions.
func (c *Client) Current(ctx context.Context) (CurrentRoadmap, error) {
	_, body, err := c.doJSON(ctx, "current", http.MethodGet, pathCurrent, nil)
	if err != nil {
		return CurrentRoadmap{}, err
	}
	raw := unwrap(body)
	var payload currentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Suggestion shapes vary; the raw payload is still usable by the caller.
		c.logger.Debug().Err(err).Msg("current roadmap payload only partially decoded")
	}
	return payload.toCurrent(raw), nil
}

// Select commits a roadmap choice.
func (c *Client) Select(ctx context.Context, roadmapID string) (SelectResult, error) {
	_, body, err := c.doJSON(ctx, "select", http.MethodPost, pathSelect, map[string]string{"roadmapId": roadmapID})
	if err != nil {
		return SelectResult{}, err
	}
	var payload selectPayload
	_ = json.Unmarshal(unwrap(body), &payload)
	selected := string(payload.SelectedRoadmapID)
	if selected == "" {
		selected = string(payload.RoadmapID)
	}
	if selected == "" {
		selected = roadmapID
	}
	return SelectResult{SelectedRoadmapID: selected}, nil
}

// RegenerateCourse replaces the course at input.Order.
func (c *Client) RegenerateCourse(ctx context.Context, input RegenerateCourseInput) (RegenerateCourseResult, error) {
	_, body, err := c.doJSON(ctx, "regenerate_course", http.MethodPost, pathRegenerate, input)
	if err != nil {
		return RegenerateCourseResult{}, err
	}
	var payload regeneratePayload
	if err := json.Unmarshal(unwrap(body), &payload); err != nil {
		return RegenerateCourseResult{}, fmt.Errorf("regenerate_course: decode response: %w", err)
	}
	newID := string(payload.NewCourseID)
	if newID == "" {
		newID = string(payload.CourseID)
	}
	if newID == "" {
		return RegenerateCourseResult{}, fmt.Errorf("regenerate_course: response missing new course id")
	}
	order := payload.Order
	if order == 0 {
		order = input.Order
	}
	return RegenerateCourseResult{Order: order, NewCourseID: newID, AIUsed: payload.AIUsed}, nil
}

// CompleteCourse records completion with an optional evidence file.
func (c *Client) CompleteCourse(ctx context.Context, input CompleteCourseInput) (CompletionRecord, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	fields := [][2]string{{"roadmapId", input.RoadmapID}, {"courseId", input.CourseID}}
	if input.Note != "" {
		fields = append(fields, [2]string{"note", input.Note})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return CompletionRecord{}, fmt.Errorf("complete_course: write field: %w", err)
		}
	}
	if input.Evidence != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="evidence"; filename=%q`, input.Evidence.Filename))
		mimeType := input.Evidence.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		header.Set("Content-Type", mimeType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return CompletionRecord{}, fmt.Errorf("complete_course: create evidence part: %w", err)
		}
		if _, err := part.Write(input.Evidence.Content); err != nil {
			return CompletionRecord{}, fmt.Errorf("complete_course: write evidence: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return CompletionRecord{}, fmt.Errorf("complete_course: close multipart: %w", err)
	}

	_, body, err := c.do(ctx, "complete_course", http.MethodPost, pathComplete, buf, writer.FormDataContentType())
	if err != nil {
		return CompletionRecord{}, err
	}
	record := CompletionRecord{RoadmapID: FlexString(input.RoadmapID), CourseID: FlexString(input.CourseID), Completed: true}
	_ = json.Unmarshal(unwrap(body), &record)
	return record, nil
}

// Progress fetches authoritative completion stats.
func (c *Client) Progress(ctx context.Context) (Progress, error) {
	_, body, err := c.doJSON(ctx, "progress", http.MethodGet, pathProgress, nil)
	if err != nil {
		return Progress{}, err
	}
	var progress Progress
	if err := json.Unmarshal(unwrap(body), &progress); err != nil {
		return Progress{}, fmt.Errorf("progress: decode response: %w", err)
	}
	return progress, nil
}

// CourseDetail looks up a single course.
func (c *Client) CourseDetail(ctx context.Context, courseID string) (CourseDetail, error) {
	if strings.TrimSpace(courseID) == "" {
		return CourseDetail{}, fmt.Errorf("course_detail: %w: course id is empty", ErrBadRequest)
	}
	_, body, err := c.doJSON(ctx, "course_detail", http.MethodGet, pathCourses+url.PathEscape(courseID), nil)
	if err != nil {
		return CourseDetail{}, err
	}
	var detail CourseDetail
	if err := json.Unmarshal(unwrap(body), &detail); err != nil {
		return CourseDetail{}, fmt.Errorf("course_detail: decode response: %w", err)
	}
	return detail, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	contentType := ""
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, body, contentType)
}

func (c *Client) do(parent context.Context, op, method, path string, body io.Reader, contentType string) (int, []byte, error) {
	token, err := c.bearer(parent)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx, span := c.tracer.Start(parent, "careerapi."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	))
	defer span.End()

	start := time.Now()
	status, respBody, err := c.send(ctx, op, method, path, body, contentType, token)
	apiDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		apiFailures.WithLabelValues(op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return status, nil, err
	}
	return status, respBody, nil
}

func (c *Client) send(ctx context.Context, op, method, path string, body io.Reader, contentType, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return 0, nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s: read response: %w: %w", op, ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, nil, &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	c.logger.Debug().Str("operation", op).Int("status", resp.StatusCode).Msg("career api request completed")
	return resp.StatusCode, respBody, nil
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", ErrMissingCredential
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingCredential, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}
