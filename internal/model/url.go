package model

import "time"

// URLRecord represents one shortened URL. It is immutable after creation.
type URLRecord struct {
	ID                    string    `json:"id"`
	OriginalURL           string    `json:"originalUrl"`
	ShortCode             string    `json:"shortCode"`
	CreatedAt             time.Time `json:"createdAt"`
	ExpiryDate            time.Time `json:"expiryDate"`
	CreatedBy             string    `json:"createdBy"`
	ValidityPeriodMinutes int       `json:"validityPeriod"`
	IsActive              bool      `json:"isActive"`
}

// IsExpiredAt reports whether the record is past its expiry date at now.
// A record exactly at its expiry date is still active.
func (r *URLRecord) IsExpiredAt(now time.Time) bool {
	return now.After(r.ExpiryDate)
}

// ClickRecord is one observed redirect.
type ClickRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	ClientAddress string    `json:"clientAddress"`
	UserAgent     string    `json:"userAgent"`
	Location      string    `json:"location"`
}

// AnalyticsEntry is the click ledger of a single short code.
// TotalClicks always equals len(Clicks).
type AnalyticsEntry struct {
	TotalClicks int64         `json:"totalClicks"`
	Clicks      []ClickRecord `json:"clicks"`
}

// ListItem is a registry record joined with its click summary.
type ListItem struct {
	URLRecord
	TotalClicks  int64         `json:"totalClicks"`
	IsExpired    bool          `json:"isExpired"`
	LastClickAt  *time.Time    `json:"lastClickAt,omitempty"`
	RecentClicks []ClickRecord `json:"recentClicks"`
}

// Analytics is the full click history of a short code.
type Analytics struct {
	URLRecord
	TotalClicks      int64            `json:"totalClicks"`
	IsExpired        bool             `json:"isExpired"`
	UniqueVisitors   int              `json:"uniqueVisitors"`
	ClicksByLocation map[string]int64 `json:"clicksByLocation"`
	Clicks           []ClickRecord    `json:"clicks"`
}

// HealthSnapshot counts the records held by the registry.
type HealthSnapshot struct {
	TotalURLs  int `json:"totalUrls"`
	ActiveURLs int `json:"activeUrls"`
}

// CreateURLRequest represents the request body for creating a short URL
type CreateURLRequest struct {
	OriginalURL     string `json:"originalUrl"`
	CustomShortcode string `json:"customShortcode,omitempty"`
	ValidityPeriod  int    `json:"validityPeriod,omitempty"` // minutes
}

// CreateURLResponse is the created record plus its redirect URL
type CreateURLResponse struct {
	URLRecord
	ShortURL string `json:"shortUrl"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error     string     `json:"error"`
	Message   string     `json:"message,omitempty"`
	ExpiredAt *time.Time `json:"expiredAt,omitempty"`
}
