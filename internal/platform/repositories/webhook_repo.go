package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"formhook/internal/platform/models"
)

// WebhookRepository is the registry of configured webhooks. Inbound routing
// goes through FindByExternalID, which hits the unique typeform_id index.
type WebhookRepository struct {
	db *sql.DB
}

func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

const webhookColumns = `id, user_id, name, typeform_id, notify_email, notify_email_addresses, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWebhook(row rowScanner) (*models.Webhook, error) {
	var w models.Webhook
	var addresses string
	if err := row.Scan(&w.ID, &w.UserID, &w.Name, &w.TypeformID, &w.NotifyEmail, &addresses, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(addresses), &w.NotifyEmailAddresses); err != nil || w.NotifyEmailAddresses == nil {
		w.NotifyEmailAddresses = []string{}
	}
	return &w, nil
}

func encodeAddresses(addresses []string) (string, error) {
	if addresses == nil {
		addresses = []string{}
	}
	b, err := json.Marshal(addresses)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *WebhookRepository) Create(ctx context.Context, webhook *models.Webhook) error {
	now := time.Now().Unix()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now

	addresses, err := encodeAddresses(webhook.NotifyEmailAddresses)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO webhooks (user_id, name, typeform_id, notify_email, notify_email_addresses, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, webhook.UserID, webhook.Name, webhook.TypeformID, webhook.NotifyEmail, addresses, webhook.CreatedAt, webhook.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("form %q: %w", webhook.TypeformID, ErrDuplicate)
		}
		return storageErr("create webhook", err)
	}

	webhook.ID, err = res.LastInsertId()
	return err
}

// FindByExternalID resolves an inbound routing key. Returns nil, nil when no
// webhook is registered for the form.
func (r *WebhookRepository) FindByExternalID(ctx context.Context, externalID string) (*models.Webhook, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE typeform_id = ?`, externalID)
	w, err := scanWebhook(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storageErr("find webhook by form", err)
	}
	return w, nil
}

func (r *WebhookRepository) GetByID(ctx context.Context, id int64) (*models.Webhook, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	w, err := scanWebhook(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storageErr("get webhook", err)
	}
	return w, nil
}

func (r *WebhookRepository) ListByOwner(ctx context.Context, userID int64) ([]*models.Webhook, error) {
	return r.list(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

// ListAll returns every webhook in id order.
func (r *WebhookRepository) ListAll(ctx context.Context) ([]*models.Webhook, error) {
	return r.list(ctx, `SELECT `+webhookColumns+` FROM webhooks ORDER BY id ASC`)
}

func (r *WebhookRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Webhook, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list webhooks", err)
	}
	defer rows.Close()

	webhooks := []*models.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, storageErr("scan webhook", err)
		}
		webhooks = append(webhooks, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list webhooks", err)
	}
	return webhooks, nil
}

func (r *WebhookRepository) Update(ctx context.Context, webhook *models.Webhook) error {
	addresses, err := encodeAddresses(webhook.NotifyEmailAddresses)
	if err != nil {
		return err
	}
	webhook.UpdatedAt = time.Now().Unix()

	_, err = r.db.ExecContext(ctx, `
		UPDATE webhooks
		SET name = ?, typeform_id = ?, notify_email = ?, notify_email_addresses = ?, updated_at = ?
		WHERE id = ?
	`, webhook.Name, webhook.TypeformID, webhook.NotifyEmail, addresses, webhook.UpdatedAt, webhook.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("form %q: %w", webhook.TypeformID, ErrDuplicate)
		}
		return storageErr("update webhook", err)
	}
	return nil
}

// Delete removes the webhook; its responses go with it via ON DELETE CASCADE.
func (r *WebhookRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id); err != nil {
		return storageErr("delete webhook", err)
	}
	return nil
}

func (r *WebhookRepository) Count(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhooks WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, storageErr("count webhooks", err)
	}
	return n, nil
}
