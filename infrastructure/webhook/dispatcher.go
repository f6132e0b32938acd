package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashfleet/wagateway/config"
	pkgError "github.com/hashfleet/wagateway/pkg/error"
	pkgUtils "github.com/hashfleet/wagateway/pkg/utils"
)

const userAgent = "WhatsApp-Gateway-Webhook/1.0"

// Dispatcher posts signed status-webhook envelopes with retries. Failures
// never propagate to whatever triggered the event.
type Dispatcher struct {
	client      *http.Client
	maxAttempts int
}

func NewDispatcher(cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		client:      &http.Client{Timeout: cfg.Webhook.Timeout},
		maxAttempts: cfg.Webhook.MaxAttempts,
	}
}

// Submit delivers payload to url. When secret is non-empty the request
// carries X-Webhook-Signature = hex(HMAC-SHA256(secret, body)). Between
// attempt k and k+1 it sleeps 2^(k-1) seconds.
func (d *Dispatcher) Submit(ctx context.Context, url, secret string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgError.WebhookError(fmt.Sprintf("failed to marshal payload: %v", err))
	}

	var signature string
	if secret != "" {
		signature, err = pkgUtils.GetMessageDigestOrSignature(body, []byte(secret))
		if err != nil {
			return pkgError.WebhookError(fmt.Sprintf("failed to sign payload: %v", err))
		}
	}

	sleep := 1 * time.Second
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return pkgError.WebhookError(fmt.Sprintf("failed to build request: %v", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if signature != "" {
			req.Header.Set("X-Webhook-Signature", signature)
		}

		resp, err := d.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				logrus.Infof("[WEBHOOK] Delivered to %s on attempt %d", url, attempt)
				return nil
			}
			err = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}

		lastErr = err
		logrus.Warnf("[WEBHOOK] Attempt %d/%d to %s failed: %v", attempt, d.maxAttempts, url, err)
		if attempt < d.maxAttempts {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return pkgError.WebhookError(fmt.Sprintf("webhook cancelled: %v", ctx.Err()))
			}
			sleep *= 2
		}
	}

	return pkgError.WebhookError(fmt.Sprintf("delivery to %s failed after %d attempts: %v", url, d.maxAttempts, lastErr))
}
