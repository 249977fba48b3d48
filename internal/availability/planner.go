package availability

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/cache"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/domain"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/coalesce"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/upstream"
)

// FanOut bounds the per-level concurrency of the fetch plan.
type FanOut struct {
	Courts int `yaml:"courts"`
	Slots  int `yaml:"slots"`
}

// DefaultFanOut matches the upstream quota headroom: courts narrow, slots wide.
var DefaultFanOut = FanOut{Courts: 5, Slots: 10}

// Planner expands a (placeId, date) query into a bounded-concurrency fetch
// plan and assembles the availability tree in upstream order.
type Planner struct {
	client *upstream.Client
	cache  *cache.Cache
	fanOut FanOut
}

// New builds a planner over the upstream client and cache.
func New(client *upstream.Client, c *cache.Cache, fanOut FanOut) *Planner {
	if fanOut.Courts < 1 {
		fanOut.Courts = DefaultFanOut.Courts
	}
	if fanOut.Slots < 1 {
		fanOut.Slots = DefaultFanOut.Slots
	}
	return &Planner{client: client, cache: c, fanOut: fanOut}
}

// slotTask remembers where a flat slots fetch re-gathers into the tree.
type slotTask struct {
	clubIdx  int
	courtIdx int
}

// GetAvailability returns the clubs → courts → available slots tree for a
// place and date. The tree's shape is determined by the clubs and courts
// listings; slot fetches that yield nothing materialize as empty sequences.
// When no club data can be produced at all the result is an empty tree, not
// an error.
func (p *Planner) GetAvailability(ctx context.Context, placeID, date string) ([]domain.ClubAvailability, error) {
	clubs, err := p.client.GetClubs(ctx, placeID)
	if err != nil {
		if errors.Is(err, upstream.ErrNoCachedData) {
			log.Info().Str("placeId", placeID).Msg("availability: no club data, returning empty tree")
			return []domain.ClubAvailability{}, nil
		}
		return nil, err
	}

	courtTasks := make([]func(context.Context) ([]domain.Court, error), len(clubs))
	for i, club := range clubs {
		clubID := club.ID
		courtTasks[i] = func(ctx context.Context) ([]domain.Court, error) {
			courts, err := p.client.GetCourts(ctx, clubID)
			if errors.Is(err, upstream.ErrNoCachedData) {
				return nil, nil
			}
			return courts, err
		}
	}
	courtsByClub, err := coalesce.RunOrdered(ctx, courtTasks, p.fanOut.Courts)
	if err != nil {
		return nil, err
	}

	var mapping []slotTask
	var slotTasks []func(context.Context) ([]domain.Slot, error)
	for clubIdx, club := range clubs {
		clubID := club.ID
		for courtIdx, court := range courtsByClub[clubIdx] {
			courtID := court.ID
			mapping = append(mapping, slotTask{clubIdx: clubIdx, courtIdx: courtIdx})
			slotTasks = append(slotTasks, func(ctx context.Context) ([]domain.Slot, error) {
				slots, err := p.client.GetAvailableSlots(ctx, clubID, courtID, date)
				if errors.Is(err, upstream.ErrNoCachedData) {
					return nil, nil
				}
				return slots, err
			})
		}
	}
	slotsFlat, err := coalesce.RunOrdered(ctx, slotTasks, p.fanOut.Slots)
	if err != nil {
		return nil, err
	}

	tree := make([]domain.ClubAvailability, len(clubs))
	for i, club := range clubs {
		courts := make([]domain.CourtAvailability, len(courtsByClub[i]))
		for j, court := range courtsByClub[i] {
			courts[j] = domain.CourtAvailability{Court: court, Available: []domain.Slot{}}
		}
		tree[i] = domain.ClubAvailability{Club: club, Courts: courts}
	}
	for taskIdx, loc := range mapping {
		if slots := slotsFlat[taskIdx]; slots != nil {
			tree[loc.clubIdx].Courts[loc.courtIdx].Available = slots
		}
	}
	return tree, nil
}

// InvalidateCacheForPlace drops composite availability entries for a place.
// With a date only that day is touched; without one every day under the
// place goes, by pattern.
func (p *Planner) InvalidateCacheForPlace(ctx context.Context, placeID, date string) {
	if date != "" {
		p.cache.Invalidate(ctx,
			cache.Key(cache.TypeAvailability, placeID, date),
			cache.StaleKey(cache.TypeAvailability, placeID, date),
		)
		return
	}
	p.cache.InvalidateByPattern(ctx, cache.Key(cache.TypeAvailability, placeID, "*"))
	p.cache.InvalidateByPattern(ctx, cache.StaleKey(cache.TypeAvailability, placeID, "*"))
}

// ParseDate validates the YYYY-MM-DD query parameter.
func ParseDate(raw string) (string, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}
