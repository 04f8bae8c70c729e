package db

import (
	"database/sql"
	"time"

	"github.com/YannKr/wmmaker/internal/model"
)

func CreateWebhookDelivery(database *sql.DB, d *model.WebhookDelivery) error {
	_, err := database.Exec(
		`INSERT INTO webhook_deliveries (id, export_id, url, event_type, event_id, payload_json,
		                                 attempt_number, state, next_retry_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ExportID, d.URL, d.EventType, d.EventID, d.PayloadJSON,
		d.AttemptNumber, d.State, timePtrArg(d.NextRetryAt),
	)
	return err
}

func UpdateWebhookDelivery(database *sql.DB, d *model.WebhookDelivery) error {
	_, err := database.Exec(
		`UPDATE webhook_deliveries
		 SET attempt_number = ?, response_status = ?, response_body_preview = ?, error_message = ?,
		     state = ?, next_retry_at = ?, delivered_at = ?
		 WHERE id = ?`,
		d.AttemptNumber, d.ResponseStatus, d.ResponseBodyPreview, d.ErrorMessage,
		d.State, timePtrArg(d.NextRetryAt), timePtrArg(d.DeliveredAt), d.ID,
	)
	return err
}

// ListDueWebhookDeliveries returns failed deliveries whose retry time has
// passed.
func ListDueWebhookDeliveries(database *sql.DB, now time.Time) ([]model.WebhookDelivery, error) {
	rows, err := database.Query(`
		SELECT id, export_id, url, event_type, event_id, payload_json, attempt_number,
		       response_status, COALESCE(response_body_preview, ''), COALESCE(error_message, ''),
		       state, next_retry_at, delivered_at, created_at
		FROM webhook_deliveries
		WHERE state = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at ASC`, formatTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		var status sql.NullInt64
		var nextRetry, delivered sql.NullString
		var createdAt SQLiteTime
		if err := rows.Scan(&d.ID, &d.ExportID, &d.URL, &d.EventType, &d.EventID, &d.PayloadJSON,
			&d.AttemptNumber, &status, &d.ResponseBodyPreview, &d.ErrorMessage,
			&d.State, &nextRetry, &delivered, &createdAt); err != nil {
			return nil, err
		}
		if status.Valid {
			code := int(status.Int64)
			d.ResponseStatus = &code
		}
		d.NextRetryAt = nullTime(nextRetry)
		d.DeliveredAt = nullTime(delivered)
		d.CreatedAt = createdAt.Time
		out = append(out, d)
	}
	return out, rows.Err()
}

func ListWebhookDeliveriesByExport(database *sql.DB, exportID string) ([]model.WebhookDelivery, error) {
	rows, err := database.Query(`
		SELECT id, event_type, attempt_number, state, COALESCE(error_message, ''), created_at
		FROM webhook_deliveries WHERE export_id = ? ORDER BY created_at ASC`, exportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WebhookDelivery
	for rows.Next() {
		d := model.WebhookDelivery{ExportID: exportID}
		var createdAt SQLiteTime
		if err := rows.Scan(&d.ID, &d.EventType, &d.AttemptNumber, &d.State, &d.ErrorMessage, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = createdAt.Time
		out = append(out, d)
	}
	return out, rows.Err()
}

func PruneOldWebhookDeliveries(database *sql.DB, cutoff time.Time) (int64, error) {
	res, err := database.Exec(`DELETE FROM webhook_deliveries WHERE created_at < ? AND state IN ('delivered', 'exhausted')`,
		formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func timePtrArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
