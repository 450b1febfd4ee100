package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Put uploads an object and returns its resolvable URL.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf(
		"%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		c.host,
		url.PathEscape(c.defaultBucket),
		url.QueryEscape(key),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("upload", key, resp)
	}
	return c.ObjectURL(key), nil
}

// Get downloads an object in full. Missing objects return ErrObjectNotFound.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		c.host,
		url.PathEscape(c.defaultBucket),
		url.PathEscape(key),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		return data, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	default:
		return nil, statusError("download", key, resp)
	}
}

// Delete removes an object. Missing objects return ErrObjectNotFound so bulk
// variant cleanup can distinguish misses from connectivity failures.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	u := fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s",
		c.host,
		url.PathEscape(c.defaultBucket),
		url.PathEscape(key),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	default:
		return statusError("delete", key, resp)
	}
}

// List returns the keys of every object under prefix, following pagination
// until the listing is exhausted.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("list prefix required")
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	pageToken := ""
	for {
		u := fmt.Sprintf(
			"%s/storage/v1/b/%s/o?prefix=%s&fields=items/name,nextPageToken",
			c.host,
			url.PathEscape(c.defaultBucket),
			url.QueryEscape(prefix),
		)
		if pageToken != "" {
			u += "&pageToken=" + url.QueryEscape(pageToken)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, err)
		}
		if resp.StatusCode != http.StatusOK {
			err := statusError("list", prefix, resp)
			_ = resp.Body.Close()
			return nil, err
		}

		var page struct {
			Items []struct {
				Name string `json:"name"`
			} `json:"items"`
			NextPageToken string `json:"nextPageToken"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding listing %s: %w", prefix, err)
		}

		for _, item := range page.Items {
			keys = append(keys, item.Name)
		}
		if page.NextPageToken == "" {
			return keys, nil
		}
		pageToken = page.NextPageToken
	}
}

// ObjectURL returns the resolvable URL for a key without touching the backend.
func (c *Client) ObjectURL(key string) string {
	if c.publicBaseURL != "" {
		return c.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("%s/%s/%s", c.host, c.defaultBucket, key)
}

// KeyForURL recovers the object key from a URL this client produced.
func (c *Client) KeyForURL(rawURL string) (string, bool) {
	for _, prefix := range []string{
		c.publicBaseURL + "/",
		fmt.Sprintf("%s/%s/", c.host, c.defaultBucket),
	} {
		if prefix == "/" {
			continue
		}
		if key, ok := strings.CutPrefix(rawURL, prefix); ok && key != "" {
			return key, true
		}
	}
	return "", false
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("object key required")
	}
	return nil
}

func statusError(op, key string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if len(b) > 0 {
		return fmt.Errorf("gcs %s %s: %s: %s", op, key, resp.Status, strings.TrimSpace(string(b)))
	}
	return fmt.Errorf("gcs %s %s: %s", op, key, resp.Status)
}
