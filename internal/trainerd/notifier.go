package trainerd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/logger"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/utils"
)

var (
	ErrInvalidURL       = errors.New("invalid callback url")
	ErrMetadataEndpoint = errors.New("callback url targets a cloud metadata endpoint")
)

// NotificationPayload is the JSON body posted to a run's callback URL
type NotificationPayload struct {
	RunID           string             `json:"run_id"`
	Status          models.RunStatus   `json:"status"`
	CreatedAtUnixMs int64              `json:"created_at_unix_ms"`
	StartedAtUnixMs int64              `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64              `json:"ended_at_unix_ms,omitempty"`
	Error           string             `json:"error,omitempty"`
	Metrics         *models.RunMetrics `json:"metrics,omitempty"`
	Timestamp       int64              `json:"timestamp"`
}

// Notifier posts terminal run states to callback URLs with retries
type Notifier struct {
	httpClient *http.Client
	maxRetries int
	backoff    utils.BackoffStrategy
	log        *slog.Logger
}

// NewNotifier creates a notifier with 3 retries and 1s exponential backoff
func NewNotifier() *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    utils.NewExponentialBackoff(time.Second, 30*time.Second, 2),
		log:        logger.Component("notifier"),
	}
}

// ValidateCallbackURL rejects URLs that are not http(s) or that point at
// link-local metadata services or the wildcard address.
func ValidateCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.EqualFold(host, "metadata.google.internal") {
		return ErrMetadataEndpoint
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLinkLocalUnicast() {
			return ErrMetadataEndpoint
		}
		if ip.IsUnspecified() {
			return fmt.Errorf("%w: unspecified address", ErrInvalidURL)
		}
	}
	return nil
}

func buildPayload(run *models.Run) NotificationPayload {
	return NotificationPayload{
		RunID:           run.ID,
		Status:          run.Status,
		CreatedAtUnixMs: unixMs(run.CreatedAt),
		StartedAtUnixMs: unixMs(run.StartedAt),
		EndedAtUnixMs:   unixMs(run.EndedAt),
		Error:           run.Error,
		Metrics:         run.Metrics,
		Timestamp:       time.Now().UTC().UnixMilli(),
	}
}

// Notify sends the notification in the background
func (n *Notifier) Notify(callbackURL, secret string, run *models.Run) {
	if callbackURL == "" || run == nil {
		return
	}
	go func() {
		if err := n.Send(context.Background(), callbackURL, secret, run); err != nil {
			n.log.Error("failed to send notification after retries",
				"callback_url", callbackURL,
				"run_id", run.ID,
				"status", run.Status,
				"error", err)
		}
	}()
}

// Send posts the notification, retrying non-2xx responses and transport
// errors. {run_id} in callbackURL is replaced with the run ID.
func (n *Notifier) Send(ctx context.Context, callbackURL, secret string, run *models.Run) error {
	finalURL := strings.ReplaceAll(callbackURL, "{run_id}", run.ID)
	body, err := json.Marshal(buildPayload(run))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			delay := n.backoff.NextDelay(attempt - 1)
			n.log.Debug("retrying notification", "run_id", run.ID, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = n.post(ctx, finalURL, secret, body)
		if lastErr == nil {
			n.log.Info("notification sent", "run_id", run.ID, "status", run.Status)
			return nil
		}
		n.log.Warn("notification attempt failed", "run_id", run.ID, "attempt", attempt+1, "error", lastErr)
	}
	return lastErr
}

func (n *Notifier) post(ctx context.Context, target, secret string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "evolution-core/1.0")
	if secret != "" {
		req.Header.Set("X-Trainer-Callback-Secret", secret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, snippet)
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}
