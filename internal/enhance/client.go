// Package enhance talks to the external AI photo enhancement service. The
// service is opaque: we send source bytes and instructions, it returns a
// finished image.
package enhance

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
)

const (
	responseBodyReadLimit int64 = 1024
	resultSizeLimit       int64 = 64 * 1024 * 1024

	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

var errBaseURLRequired = errors.New("enhancer base url is required")

// Request describes one enhancement job.
type Request struct {
	Image       []byte
	ContentType string
	Operations  []string
	StyleRef    string
}

// Result carries the enhanced image.
type Result struct {
	Image       []byte
	ContentType string
}

// Client wraps the enhancement HTTP API. Transient failures (connection
// errors, 5xx, 429) are retried with exponential backoff; everything else
// surfaces immediately.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	attempts   uint64
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds the enhancer client.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	client := &Client{
		baseURL:    trimmed,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
		attempts:   maxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Enhance submits the image and blocks until the service returns the result.
func (c *Client) Enhance(ctx context.Context, req Request) (*Result, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "enhancer client not configured")
	}
	if len(req.Image) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "image bytes are required")
	}
	if len(req.Operations) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one enhancement operation is required")
	}

	payload, err := json.Marshal(struct {
		Image       string   `json:"image"`
		ContentType string   `json:"contentType"`
		Operations  []string `json:"operations"`
		StyleRef    string   `json:"styleRef,omitempty"`
	}{
		Image:       base64.StdEncoding.EncodeToString(req.Image),
		ContentType: req.ContentType,
		Operations:  req.Operations,
		StyleRef:    req.StyleRef,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal enhance request")
	}

	var apiResp struct {
		Image       string `json:"image"`
		ContentType string `json:"contentType"`
	}

	backoff := retry.WithMaxRetries(c.attempts-1, retry.NewExponential(initialBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/enhance", bytes.NewReader(payload))
		if reqErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, reqErr, "build enhance request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, doErr := c.httpClient.Do(httpReq)
		if doErr != nil {
			if errors.Is(doErr, context.DeadlineExceeded) {
				return pkgerrors.Wrap(pkgerrors.CodeProcessingTimeout, doErr, "enhancement timed out")
			}
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, doErr, "execute enhance request"))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
			failure := pkgerrors.Wrap(
				pkgerrors.CodeProcessing,
				fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
				"enhancement failed",
			)
			if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
				return retry.RetryableError(failure)
			}
			return failure
		}

		if decErr := json.NewDecoder(io.LimitReader(resp.Body, resultSizeLimit)).Decode(&apiResp); decErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, decErr, "decode enhance response")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(apiResp.Image)
	if err != nil || len(decoded) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeProcessing, "enhancer returned an unusable image")
	}

	contentType := apiResp.ContentType
	if contentType == "" {
		contentType = req.ContentType
	}
	return &Result{Image: decoded, ContentType: contentType}, nil
}
