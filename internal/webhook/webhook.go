package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YannKr/wmmaker/internal/db"
	"github.com/YannKr/wmmaker/internal/model"
)

const (
	EventExportCompleted = "export.completed"
	EventExportFailed    = "export.failed"

	SignatureHeader = "X-Signature"
)

var backoffSchedule = []time.Duration{
	30 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

func nextRetryAt(now time.Time, attemptNumber int) *time.Time {
	idx := attemptNumber - 1
	if idx >= len(backoffSchedule) {
		return nil
	}
	t := now.Add(backoffSchedule[idx])
	return &t
}

// Dispatcher posts export results to per-export callback URLs and records
// every attempt in webhook_deliveries.
type Dispatcher struct {
	DB     *sql.DB
	Secret string
	Client *http.Client
	Now    func() time.Time

	wg sync.WaitGroup
}

type Event struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch records a delivery for the callback and attempts it in the
// background. It is a no-op when url is empty.
func (d *Dispatcher) Dispatch(exportID, url, eventType string, data any) {
	if d == nil || d.DB == nil || url == "" {
		return
	}

	eventID := uuid.New().String()
	event := Event{
		EventType: eventType,
		EventID:   eventID,
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("webhook marshal", "error", err)
		return
	}

	now := d.now()
	delivery := &model.WebhookDelivery{
		ID:            uuid.New().String(),
		ExportID:      exportID,
		URL:           url,
		EventType:     eventType,
		EventID:       eventID,
		PayloadJSON:   string(payload),
		AttemptNumber: 1,
		State:         "pending",
		NextRetryAt:   &now,
	}
	if err := db.CreateWebhookDelivery(d.DB, delivery); err != nil {
		slog.Error("webhook: create delivery record", "error", err)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.attemptAndRecord(delivery)
	}()
}

// RetryDue re-attempts failed deliveries whose backoff has elapsed.
func (d *Dispatcher) RetryDue() {
	if d == nil || d.DB == nil {
		return
	}
	due, err := db.ListDueWebhookDeliveries(d.DB, d.now())
	if err != nil {
		slog.Error("webhook: list due deliveries", "error", err)
		return
	}
	for i := range due {
		delivery := &due[i]
		delivery.AttemptNumber++
		d.attemptAndRecord(delivery)
	}
}

// Wait blocks until in-flight background attempts finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) attemptAndRecord(delivery *model.WebhookDelivery) {
	status, preview, err := d.post(delivery.URL, []byte(delivery.PayloadJSON))

	delivery.ResponseStatus = status
	delivery.ResponseBodyPreview = preview

	if err == nil {
		now := d.now()
		delivery.State = "delivered"
		delivery.NextRetryAt = nil
		delivery.DeliveredAt = &now
		delivery.ErrorMessage = ""
		slog.Info("webhook delivered", "url", delivery.URL, "event", delivery.EventType, "export", delivery.ExportID)
	} else {
		delivery.ErrorMessage = err.Error()
		nextAt := nextRetryAt(d.now(), delivery.AttemptNumber)
		if nextAt == nil {
			delivery.State = "exhausted"
			delivery.NextRetryAt = nil
			slog.Warn("webhook exhausted", "url", delivery.URL, "event", delivery.EventType, "attempts", delivery.AttemptNumber)
		} else {
			delivery.State = "failed"
			delivery.NextRetryAt = nextAt
			slog.Warn("webhook failed, will retry", "url", delivery.URL, "event", delivery.EventType,
				"attempt", delivery.AttemptNumber, "next_retry", nextAt)
		}
	}

	if uerr := db.UpdateWebhookDelivery(d.DB, delivery); uerr != nil {
		slog.Error("webhook: update delivery record", "error", uerr)
	}
}

// Sign returns the hex HMAC-SHA256 of payload, as sent in SignatureHeader
// with a "sha256=" prefix.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) post(url string, payload []byte) (statusCode *int, preview string, err error) {
	req, reqErr := http.NewRequest("POST", url, bytes.NewReader(payload))
	if reqErr != nil {
		return nil, "", fmt.Errorf("create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(d.Secret, payload))
	}

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, respErr := client.Do(req)
	if respErr != nil {
		return nil, "", fmt.Errorf("post: %w", respErr)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
	preview = string(body)
	code := resp.StatusCode
	statusCode = &code

	if resp.StatusCode >= 400 {
		return statusCode, preview, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return statusCode, preview, nil
}

// Run retries due deliveries every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RetryDue()
		}
	}
}
