package domain

import (
	"time"
)

type Paste struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	DeleteToken string     `json:"-"`
}

// ExpiredAt reports whether the paste is logically deleted at now.
// A nil ExpiresAt never expires.
func (p *Paste) ExpiredAt(now time.Time) bool {
	if p.ExpiresAt == nil {
		return false
	}
	return !p.ExpiresAt.After(now)
}

type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateParams struct {
	Content    string
	Title      string
	Expiration time.Duration
}
