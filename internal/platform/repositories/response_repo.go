package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"formhook/internal/platform/models"
)

// ResponseRepository is the append-only response log. There is deliberately
// no update method.
type ResponseRepository struct {
	db *sql.DB
}

func NewResponseRepository(db *sql.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// Append stores raw verbatim and returns once the insert has committed.
func (r *ResponseRepository) Append(ctx context.Context, webhookID int64, raw json.RawMessage, caseNumber string) (*models.Response, error) {
	resp := &models.Response{
		WebhookID:    webhookID,
		ResponseData: raw,
		CaseNumber:   caseNumber,
		CreatedAt:    time.Now().UnixMilli(),
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO responses (webhook_id, response_data, case_number, created_at)
		VALUES (?, ?, ?, ?)
	`, resp.WebhookID, string(raw), resp.CaseNumber, resp.CreatedAt)
	if err != nil {
		return nil, storageErr("append response", err)
	}

	resp.ID, err = res.LastInsertId()
	if err != nil {
		return nil, storageErr("append response", err)
	}
	return resp, nil
}

// AppendIfAbsent stores raw unless the webhook already has a response with
// caseNumber, in which case the earliest such record is returned with
// inserted false. The existence check and the insert are one statement, so
// concurrent deliveries of the same case store it once.
func (r *ResponseRepository) AppendIfAbsent(ctx context.Context, webhookID int64, raw json.RawMessage, caseNumber string) (*models.Response, bool, error) {
	resp := &models.Response{
		WebhookID:    webhookID,
		ResponseData: raw,
		CaseNumber:   caseNumber,
		CreatedAt:    time.Now().UnixMilli(),
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO responses (webhook_id, response_data, case_number, created_at)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM responses WHERE webhook_id = ? AND case_number = ?)
	`, resp.WebhookID, string(raw), resp.CaseNumber, resp.CreatedAt, webhookID, caseNumber)
	if err != nil {
		return nil, false, storageErr("append response", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, storageErr("append response", err)
	}
	if n == 0 {
		existing, err := r.FindByCaseNumber(ctx, webhookID, caseNumber)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			// Removed between the insert and the lookup; only a webhook
			// delete cascading can do that.
			return nil, false, storageErr("append response", fmt.Errorf("case %q disappeared", caseNumber))
		}
		return existing, false, nil
	}

	resp.ID, err = res.LastInsertId()
	if err != nil {
		return nil, false, storageErr("append response", err)
	}
	return resp, true, nil
}

// ListByWebhook returns responses in arrival order.
func (r *ResponseRepository) ListByWebhook(ctx context.Context, webhookID int64) ([]*models.Response, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, webhook_id, response_data, case_number, created_at
		FROM responses WHERE webhook_id = ? ORDER BY id ASC
	`, webhookID)
	if err != nil {
		return nil, storageErr("list responses", err)
	}
	defer rows.Close()

	responses := []*models.Response{}
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, storageErr("scan response", err)
		}
		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list responses", err)
	}
	return responses, nil
}

// FindByCaseNumber returns the earliest response with the given case number,
// or nil, nil.
func (r *ResponseRepository) FindByCaseNumber(ctx context.Context, webhookID int64, caseNumber string) (*models.Response, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, webhook_id, response_data, case_number, created_at
		FROM responses WHERE webhook_id = ? AND case_number = ? ORDER BY id ASC LIMIT 1
	`, webhookID, caseNumber)
	resp, err := scanResponse(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storageErr("find response", err)
	}
	return resp, nil
}

// CountByOwner counts responses across the user's webhooks created at or
// after since (unix ms). Zero counts everything.
func (r *ResponseRepository) CountByOwner(ctx context.Context, userID int64, since int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM responses r
		JOIN webhooks w ON w.id = r.webhook_id
		WHERE w.user_id = ? AND r.created_at >= ?
	`, userID, since).Scan(&n)
	if err != nil {
		return 0, storageErr("count responses", err)
	}
	return n, nil
}

func scanResponse(row rowScanner) (*models.Response, error) {
	var resp models.Response
	var data string
	if err := row.Scan(&resp.ID, &resp.WebhookID, &data, &resp.CaseNumber, &resp.CreatedAt); err != nil {
		return nil, err
	}
	resp.ResponseData = json.RawMessage(data)
	return &resp, nil
}
