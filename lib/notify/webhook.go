package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WebhookSink POSTs each notification as JSON, retrying with exponential
// backoff. 4xx responses are not retried.
type WebhookSink struct {
	URL            string
	Client         *http.Client
	MaxElapsedTime time.Duration
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL:            url,
		Client:         &http.Client{Timeout: 10 * time.Second},
		MaxElapsedTime: time.Minute,
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return backoff.Permanent(err)
	}

	expontentialBackoff := backoff.NewExponentialBackOff()
	expontentialBackoff.MaxInterval = time.Second * 10
	expontentialBackoff.MaxElapsedTime = s.MaxElapsedTime

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			err := fmt.Errorf("webhook status code was %d, body: %s", resp.StatusCode, msg)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(expontentialBackoff, ctx))
}
