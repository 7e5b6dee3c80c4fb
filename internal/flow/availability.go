// Package flow implements the conversation-turn orchestration for BookingBridge:
// the turn state machine, tool dispatch, and availability formatting.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/BookingBridge/internal/models"
)

// ScheduleProvider defines the interface for availability lookups needed by the formatter.
type ScheduleProvider interface {
	GetSlots(ctx context.Context, startDate, endDate string) ([]models.AvailabilitySlot, error)
}

// Availability window and display constants.
const (
	// LookaheadDays is how far past today the availability window extends.
	// The window is inclusive on both ends, so it spans 8 calendar days.
	LookaheadDays = 7
	// MaxDisplayedSlots caps how many slots one reply lists.
	MaxDisplayedSlots = 5
)

// AvailabilityFormatter turns provider slot records into a reply fragment.
// It never fails its caller: any provider problem collapses into a static
// fallback message with the booking link and business hours.
type AvailabilityFormatter struct {
	provider   ScheduleProvider
	bookingURL string
	location   *time.Location
	now        func() time.Time
}

// NewAvailabilityFormatter creates a formatter. bookingURL is the generic
// booking link appended to every reply; location is the timezone the provider
// reports slot times in, and the one shown to users.
func NewAvailabilityFormatter(provider ScheduleProvider, bookingURL string, location *time.Location) *AvailabilityFormatter {
	if location == nil {
		location = time.UTC
	}
	return &AvailabilityFormatter{
		provider:   provider,
		bookingURL: bookingURL,
		location:   location,
		now:        time.Now,
	}
}

// Window returns the ISO calendar dates bounding the lookahead window,
// today through today+LookaheadDays inclusive.
func (f *AvailabilityFormatter) Window() (startDate, endDate string) {
	today := f.now().In(f.location)
	startDate = today.Format("2006-01-02")
	endDate = today.AddDate(0, 0, LookaheadDays).Format("2006-01-02")
	return startDate, endDate
}

// Format looks up availability for the fixed lookahead window and renders a
// human-readable fragment. queryText is the user text that prompted the
// lookup; it is logged but does not change the window.
func (f *AvailabilityFormatter) Format(ctx context.Context, queryText string) string {
	startDate, endDate := f.Window()
	slog.Debug("AvailabilityFormatter.Format: looking up slots", "start", startDate, "end", endDate, "query", queryText)

	slots, err := f.provider.GetSlots(ctx, startDate, endDate)
	if err != nil {
		slog.Warn("AvailabilityFormatter.Format: provider lookup failed, using fallback", "error", err)
		return f.fallbackMessage()
	}

	available := filterAvailable(slots)
	if len(available) == 0 {
		slog.Debug("AvailabilityFormatter.Format: no available slots in window")
		return f.fallbackMessage()
	}

	shown := available
	remaining := 0
	if len(shown) > MaxDisplayedSlots {
		remaining = len(shown) - MaxDisplayedSlots
		shown = shown[:MaxDisplayedSlots]
	}

	var b strings.Builder
	b.WriteString("Here are our upcoming available times:\n")
	for _, slot := range shown {
		start, parseErr := time.Parse(time.RFC3339, slot.StartTime)
		if parseErr != nil {
			slog.Warn("AvailabilityFormatter.Format: unparseable slot start time", "start_time", slot.StartTime, "error", parseErr)
			continue
		}
		local := start.In(f.location)
		fmt.Fprintf(&b, "- %s at %s: %s\n",
			local.Format("Monday, January 2"),
			local.Format("3:04 PM"),
			slot.SchedulingURL)
	}
	if remaining > 0 {
		fmt.Fprintf(&b, "...and %d more times available.\n", remaining)
	}
	fmt.Fprintf(&b, "You can also browse all openings here: %s", f.bookingURL)
	return b.String()
}

// fallbackMessage is the reply when the provider fails or has nothing open.
func (f *AvailabilityFormatter) fallbackMessage() string {
	return fmt.Sprintf("I couldn't pull up live availability right now, but you can book a time that works for you here: %s. Our regular hours are Monday to Friday, 9 AM to 5 PM.", f.bookingURL)
}

// filterAvailable keeps slots that are bookable and renderable: status must be
// "available" and both the booking link and start time must be present.
func filterAvailable(slots []models.AvailabilitySlot) []models.AvailabilitySlot {
	var available []models.AvailabilitySlot
	for _, slot := range slots {
		if slot.Status != models.SlotStatusAvailable {
			continue
		}
		if slot.SchedulingURL == "" || slot.StartTime == "" {
			continue
		}
		available = append(available, slot)
	}
	return available
}
