package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/logging"
)

const SignatureHeader = "X-Notifier-Signature"

// HTTPDispatcher posts notifications to an external delivery service as
// HMAC-signed JSON. The receiver owns channels (email, push); this side only
// hands over the payload.
type HTTPDispatcher struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

func NewHTTPDispatcher(baseURL, secret string) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: baseURL,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type notificationPayload struct {
	AccountID string `json:"account_id"`
	Notification
}

func (d *HTTPDispatcher) Notify(ctx context.Context, accountID uuid.UUID, n Notification) error {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(notificationPayload{
		AccountID:    accountID.String(),
		Notification: n,
	})
	if err != nil {
		return fmt.Errorf("Notify: marshal: %w", err)
	}

	url := d.baseURL + "/notifications"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("Notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, d.secret))

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Notify: send: %w", err)
	}
	defer resp.Body.Close()

	log.Debug("notification dispatched",
		"status", resp.StatusCode,
		"category", n.Category,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("Notify: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
