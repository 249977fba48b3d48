package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/domain"
)

// Event type tags accepted on the ingestion endpoint.
const (
	TypeBookingCreated   = "booking_created"
	TypeBookingCancelled = "booking_cancelled"
	TypeClubUpdated      = "club_updated"
	TypeCourtUpdated     = "court_updated"
)

// ErrUnknownEventType rejects unrecognized tags at the ingestion boundary.
var ErrUnknownEventType = errors.New("unknown event type")

// Event is one member of the ingestion union.
type Event interface {
	EventType() string
}

// BookingEvent covers booking_created and booking_cancelled; both invalidate
// the same slot entry.
type BookingEvent struct {
	Type    string      `json:"type"`
	ClubID  int         `json:"clubId"`
	CourtID int         `json:"courtId"`
	Slot    domain.Slot `json:"slot"`
}

func (e BookingEvent) EventType() string { return e.Type }

// ClubUpdatedEvent signals mutated club metadata.
type ClubUpdatedEvent struct {
	Type   string   `json:"type"`
	ClubID int      `json:"clubId"`
	Fields []string `json:"fields"`
}

func (e ClubUpdatedEvent) EventType() string { return e.Type }

// CourtUpdatedEvent signals mutated court metadata.
type CourtUpdatedEvent struct {
	Type    string   `json:"type"`
	ClubID  int      `json:"clubId"`
	CourtID int      `json:"courtId"`
	Fields  []string `json:"fields"`
}

func (e CourtUpdatedEvent) EventType() string { return e.Type }

// Decode parses an ingestion body into its union member, discriminating on
// the type tag. Unknown tags are a hard error here, before the core runs.
func Decode(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch envelope.Type {
	case TypeBookingCreated, TypeBookingCancelled:
		var ev BookingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode booking event: %w", err)
		}
		return ev, nil
	case TypeClubUpdated:
		var ev ClubUpdatedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode club event: %w", err)
		}
		return ev, nil
	case TypeCourtUpdated:
		var ev CourtUpdatedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode court event: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, envelope.Type)
	}
}
