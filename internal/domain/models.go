package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Club is a rental venue as returned by the upstream API. Fields beyond the
// identifier are carried opaquely; the service never interprets them.
type Club struct {
	ID            int             `json:"id"`
	Name          string          `json:"name,omitempty"`
	Permalink     string          `json:"permalink,omitempty"`
	Attributes    json.RawMessage `json:"attributes,omitempty"`
	OpenHours     json.RawMessage `json:"openhours,omitempty"`
	LogoURL       string          `json:"logo_url,omitempty"`
	BackgroundURL string          `json:"background_url,omitempty"`
}

// Court belongs to exactly one club.
type Court struct {
	ID         int             `json:"id"`
	ClubID     int             `json:"clubId,omitempty"`
	Name       string          `json:"name,omitempty"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// Slot is a bookable interval on a court. The core only interprets Datetime;
// everything else passes through to the client untouched.
type Slot struct {
	Price    float64 `json:"price"`
	Duration int     `json:"duration"`
	Datetime string  `json:"datetime"`
	Start    string  `json:"start"`
	End      string  `json:"end"`
	Priority int     `json:"_priority"`
}

// Day returns the calendar day (YYYY-MM-DD) of the slot in the given
// location. Upstream timestamps are ISO-8601 instants.
func (s Slot) Day(loc *time.Location) (string, error) {
	t, err := time.Parse(time.RFC3339, s.Datetime)
	if err != nil {
		return "", fmt.Errorf("parse slot datetime %q: %w", s.Datetime, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02"), nil
}

// CourtAvailability pairs a court with its open slots for the queried day.
type CourtAvailability struct {
	Court
	Available []Slot `json:"available"`
}

// ClubAvailability is one node of the availability tree: a club with its
// courts in upstream order.
type ClubAvailability struct {
	Club
	Courts []CourtAvailability `json:"courts"`
}
