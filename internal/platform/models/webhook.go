package models

import "encoding/json"

// Webhook routes inbound deliveries for one external form to its owner.
type Webhook struct {
	ID                   int64    `json:"id"`
	UserID               int64    `json:"userId"`
	Name                 string   `json:"name"`
	TypeformID           string   `json:"typeformId"`
	NotifyEmail          bool     `json:"notifyEmail"`
	NotifyEmailAddresses []string `json:"notifyEmailAddresses"` // JSON array in DB
	CreatedAt            int64    `json:"createdAt"`
	UpdatedAt            int64    `json:"updatedAt"`
}

// Response is one stored delivery. ResponseData is the request body verbatim.
type Response struct {
	ID           int64           `json:"id"`
	WebhookID    int64           `json:"webhookId"`
	ResponseData json.RawMessage `json:"responseData"`
	CaseNumber   string          `json:"caseNumber"`
	CreatedAt    int64           `json:"createdAt"` // unix ms
}
