package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "whisper-1"
)

// HTTPDoer allows tests to fake HTTP transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to an OpenAI-compatible /audio/transcriptions endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient HTTPDoer
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if strings.TrimSpace(model) != "" {
			c.model = model
		}
	}
}

func WithHTTPClient(doer HTTPDoer) ClientOption {
	return func(c *Client) {
		c.httpClient = doer
	}
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads audio and returns the transcript. An empty transcript or
// audio the service rejects as undecodable yields ErrUnintelligible; any other
// failure is a *ServiceError.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	if c.apiKey == "" {
		return "", &ServiceError{Op: "transcribe", Err: fmt.Errorf("api key is empty")}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fw, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", &ServiceError{Op: "transcribe", Err: err}
	}
	if _, err := fw.Write(audio); err != nil {
		return "", &ServiceError{Op: "transcribe", Err: err}
	}
	_ = writer.WriteField("model", c.model)
	if language != "" {
		_ = writer.WriteField("language", language)
	}
	_ = writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return "", &ServiceError{Op: "transcribe", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", &ServiceError{Op: "transcribe", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ServiceError{Op: "transcribe", Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ServiceError{Op: "transcribe", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s", ErrUnintelligible, strings.TrimSpace(string(b)))
	case resp.StatusCode >= 300:
		return "", &ServiceError{Op: "transcribe", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))}
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &parsed); err != nil {
		return "", &ServiceError{Op: "transcribe", Err: fmt.Errorf("decode response: %w", err)}
	}

	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", ErrUnintelligible
	}
	return text, nil
}
