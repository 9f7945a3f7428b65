package models

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	IsRootAdmin  bool   `json:"is_root_admin"`
	LastLoginAt  *int64 `json:"last_login_at,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}
