package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	agenterrors "github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/pkg/model"
)

// WebhookSink POSTs each notification as JSON to an admin-operated
// endpoint. One retry, because the webhook is a convenience channel and
// the notification record in the store is the durable copy.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSink creates a WebhookSink for the given endpoint URL.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	// Explicit transport instead of http.DefaultTransport to avoid
	// sharing mutable state with other code in the process.
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &WebhookSink{
		url: url,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: base,
		},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// Notify delivers the notification with a single retry. The body is
// re-marshaled per attempt so each request gets a fresh reader.
func (s *WebhookSink) Notify(ctx context.Context, n *model.WarningNotification) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return agenterrors.New(agenterrors.ErrCallbackFailed, "notify",
				fmt.Sprintf("webhook canceled before attempt %d", attempt+1), err)
		}
		if err := s.post(ctx, n); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return agenterrors.New(agenterrors.ErrCallbackFailed, "notify",
		fmt.Sprintf("webhook delivery to %s failed: %v", s.url, lastErr), lastErr)
}

func (s *WebhookSink) post(ctx context.Context, n *model.WarningNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
