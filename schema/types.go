package schema

import (
	"strconv"
	"time"
)

// TabID identifies a browser tab. IDs are opaque integers assigned by the tab controller.
type TabID int64

// String renders the tab id in decimal.
func (id TabID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseTabID parses a decimal tab id.
func ParseTabID(value string) (TabID, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrInvalidRequest
	}
	return TabID(n), nil
}

// RotationState is the persisted rotation state for a single tab.
type RotationState struct {
	IsRotating       bool       `json:"isRotating"`
	URLs             []string   `json:"urls"`
	MinTime          int        `json:"minTime"`
	MaxTime          int        `json:"maxTime"`
	RotationCount    int        `json:"rotationCount"`
	LastRotationTime *time.Time `json:"lastRotationTime,omitempty"`
	NextRotationTime *time.Time `json:"nextRotationTime,omitempty"`
	StartTime        *time.Time `json:"startTime,omitempty"`
	StopTime         *time.Time `json:"stopTime,omitempty"`
	LastURL          string     `json:"lastUrl,omitempty"`
}

// URLUsage tracks how often a URL was used and when it was last used.
type URLUsage struct {
	Count    int        `json:"count"`
	LastUsed *time.Time `json:"lastUsed,omitempty"`
}

// SessionRecord describes one finished rotation session.
type SessionRecord struct {
	ID            string        `json:"id"`
	TabID         TabID         `json:"tabId"`
	Duration      time.Duration `json:"duration"`
	RotationCount int           `json:"rotationCount"`
	Timestamp     time.Time     `json:"timestamp"`
}

// TabInfo describes a live browser tab.
type TabInfo struct {
	ID    TabID  `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
