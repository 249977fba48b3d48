package events

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/cache"
)

// availabilityWindowDays is the forward horizon of composite entries touched
// by any mutation: today plus six more days.
const availabilityWindowDays = 7

// Stats is the ingestion counter snapshot.
type Stats struct {
	Processed     int64      `json:"processed"`
	Errors        int64      `json:"errors"`
	LastProcessed *time.Time `json:"lastProcessed"`
	SuccessRate   float64    `json:"successRate"`
}

// Engine translates ingested events into the minimal set of cache mutations.
// Processing failures are counted, never propagated: the ingestion endpoint
// acknowledges every well-formed event.
type Engine struct {
	cache    *cache.Cache
	placeIDs []string
	loc      *time.Location

	processed atomic.Int64
	errCount  atomic.Int64

	mu            sync.Mutex
	lastProcessed time.Time

	now func() time.Time // test seam
}

// New builds the engine. placeIDs is the static set of places whose composite
// availability entries are swept after each event; loc resolves slot calendar
// days (nil means UTC).
func New(c *cache.Cache, placeIDs []string, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		cache:    c,
		placeIDs: placeIDs,
		loc:      loc,
		now:      time.Now,
	}
}

// Process applies one event. It never fails the caller; any internal error is
// recorded on the stats surface.
func (e *Engine) Process(ctx context.Context, ev Event) {
	if err := e.apply(ctx, ev); err != nil {
		e.errCount.Add(1)
		log.Error().Err(err).Str("type", ev.EventType()).Msg("events: invalidation failed")
		return
	}
	e.processed.Add(1)
	e.mu.Lock()
	e.lastProcessed = e.now()
	e.mu.Unlock()
}

func (e *Engine) apply(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case BookingEvent:
		day, err := ev.Slot.Day(e.loc)
		if err != nil {
			return err
		}
		club, court := strconv.Itoa(ev.ClubID), strconv.Itoa(ev.CourtID)
		e.cache.Invalidate(ctx,
			cache.Key(cache.TypeSlots, club, court, day),
			cache.StaleKey(cache.TypeSlots, club, court, day),
		)
		log.Debug().Int("clubId", ev.ClubID).Int("courtId", ev.CourtID).Str("day", day).
			Str("type", ev.Type).Msg("events: slot entry invalidated")

	case ClubUpdatedEvent:
		club := strconv.Itoa(ev.ClubID)
		if placeID, found := e.cache.ClubPlace(ctx, ev.ClubID); found {
			e.cache.Invalidate(ctx,
				cache.Key(cache.TypeClubs, placeID),
				cache.StaleKey(cache.TypeClubs, placeID),
			)
		} else {
			// Without the reverse index the owning place is unknown; every
			// clubs listing could contain this club.
			e.cache.InvalidateByPattern(ctx, cache.Key(cache.TypeClubs, "*"))
			e.cache.InvalidateByPattern(ctx, cache.StaleKey(cache.TypeClubs, "*"))
		}
		e.cache.Invalidate(ctx,
			cache.Key(cache.TypeCourts, club),
			cache.StaleKey(cache.TypeCourts, club),
		)

	case CourtUpdatedEvent:
		club := strconv.Itoa(ev.ClubID)
		e.cache.Invalidate(ctx,
			cache.Key(cache.TypeCourts, club),
			cache.StaleKey(cache.TypeCourts, club),
		)
	}

	e.sweepAvailability(ctx)
	return nil
}

// sweepAvailability drops composite entries for the configured places over
// the forward window. Composite keys embed a placeId the event does not
// carry, hence the configured set.
func (e *Engine) sweepAvailability(ctx context.Context) {
	if len(e.placeIDs) == 0 {
		return
	}
	today := e.now().In(e.loc)
	keys := make([]string, 0, len(e.placeIDs)*availabilityWindowDays*2)
	for _, placeID := range e.placeIDs {
		for d := 0; d < availabilityWindowDays; d++ {
			day := today.AddDate(0, 0, d).Format("2006-01-02")
			keys = append(keys,
				cache.Key(cache.TypeAvailability, placeID, day),
				cache.StaleKey(cache.TypeAvailability, placeID, day),
			)
		}
	}
	e.cache.Invalidate(ctx, keys...)
}

// Stats returns the ingestion counters.
func (e *Engine) Stats() Stats {
	processed := e.processed.Load()
	errs := e.errCount.Load()

	stats := Stats{Processed: processed, Errors: errs}
	if total := processed + errs; total > 0 {
		stats.SuccessRate = float64(processed) / float64(total)
	}
	e.mu.Lock()
	if !e.lastProcessed.IsZero() {
		last := e.lastProcessed
		stats.LastProcessed = &last
	}
	e.mu.Unlock()
	return stats
}
