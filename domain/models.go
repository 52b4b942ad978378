package domain

import "time"

// FetchStatus is the outcome of the latest fetch cycle of a Source.
type FetchStatus int

const (
	FetchFailed  FetchStatus = 0
	FetchDone    FetchStatus = 1
	FetchPending FetchStatus = 2
)

func (s FetchStatus) String() string {
	switch s {
	case FetchFailed:
		return "Failed"
	case FetchDone:
		return "Done"
	case FetchPending:
		return "Pending"
	default:
		return "Unknown"
	}
}

type Source struct {
	ID            string
	UserID        string
	Name          string
	URL           string
	FetchInterval time.Duration
	FetchStatus   FetchStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Feed is the latest channel-level snapshot of a Source.
type Feed struct {
	ID         string
	SourceID   string
	Title      string
	Link       string
	Summary    string
	TagLine    string
	URL        string
	Published  *time.Time
	Modified   *time.Time
	RawEntries []Record
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CheckUpdateDate reports whether t is newer than the stored publication or
// modification date.
func (f Feed) CheckUpdateDate(t time.Time) bool {
	if f.Published != nil && t.After(*f.Published) {
		return true
	}
	if f.Modified != nil && t.After(*f.Modified) {
		return true
	}
	return false
}

type FeedEntry struct {
	ID        string
	FeedID    string
	Read      bool
	Title     string
	Link      string
	Summary   string
	URL       string
	Published *time.Time
	Modified  *time.Time
	Author    string
	Copyright string
	CreatedAt time.Time
}

// Record is one decoded feed document or item, keyed by the names its dialect
// uses. A full document carries the channel under "feed" and items under
// "entries".
type Record map[string]any

// Text returns the value under key when it is a string.
func (r Record) Text(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// AggregatedFeed is the canonical form of a feed document or a single item.
type AggregatedFeed struct {
	Title       string
	Link        string
	URL         string
	Description string
	Tagline     string
	GUID        string
	Published   *time.Time
	Modified    *time.Time
	Author      string
	Copyright   string
	Language    string
	Items       []Record
}

// GUIDOrURL is the stable identity of the feed or item.
func (a AggregatedFeed) GUIDOrURL() string {
	if a.GUID != "" {
		return a.GUID
	}
	return a.URL
}

// PeriodicTask is one recurring trigger held by the task registry.
type PeriodicTask struct {
	Name     string        `json:"name"`
	Task     string        `json:"task"`
	Args     []string      `json:"args"`
	Interval time.Duration `json:"interval"`
}

// StatusReport is a point-in-time view of a Source's fetch status.
type StatusReport struct {
	Code          int       `json:"status_id"`
	Label         string    `json:"status_desc"`
	LastUpdatedAt time.Time `json:"last_update"`
}
