package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"formhook/internal/pkg/parser"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	ActionWebhookCreated = "webhook.created"
	ActionWebhookUpdated = "webhook.updated"
	ActionWebhookDeleted = "webhook.deleted"
	ActionLogin          = "auth.login"

	ResourceWebhook = "webhook"
	ResourceUser    = "user"
)

type AuditLog struct {
	ID           string                 `json:"id"`
	UserID       int64                  `json:"user_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Metadata     map[string]interface{} `json:"metadata"`
	IPAddress    string                 `json:"ip_address"`
	UserAgent    string                 `json:"user_agent"`
	CreatedAt    int64                  `json:"created_at"`
}

type Logger struct {
	db *sql.DB
	wg sync.WaitGroup
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

// Log records an administrative action in the background. Failures are
// logged and otherwise ignored so auditing never fails the request.
func (l *Logger) Log(r *http.Request, userID int64, action, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := &AuditLog{
		ID:           "audit_" + uuid.New().String(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		IPAddress:    "unknown",
		UserAgent:    "unknown",
		CreatedAt:    time.Now().Unix(),
	}
	if r != nil {
		entry.IPAddress = parser.ClientIP(r)
		entry.UserAgent = r.UserAgent()
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Record(ctx, entry); err != nil {
			log.Warn().Err(err).Str("action", entry.Action).Msg("failed to write audit log")
		}
	}()
}

func (l *Logger) Record(ctx context.Context, entry *AuditLog) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, string(metaJSON), entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	return err
}

// List returns the most recent entries, newest first.
func (l *Logger) List(ctx context.Context, limit int) ([]*AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*AuditLog{}
	for rows.Next() {
		var e AuditLog
		var userID sql.NullInt64
		var resID, metaStr, ip, ua sql.NullString
		if err := rows.Scan(&e.ID, &userID, &e.Action, &e.ResourceType, &resID, &metaStr, &ip, &ua, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID = userID.Int64
		e.ResourceID = resID.String
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		if metaStr.Valid {
			json.Unmarshal([]byte(metaStr.String), &e.Metadata)
		}
		logs = append(logs, &e)
	}
	return logs, rows.Err()
}

// Wait blocks until pending background writes finish.
func (l *Logger) Wait() {
	l.wg.Wait()
}
