package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/smartia-br/consultaflow/internal/models"
)

// Default configuration for the Google Calendar backend.
const (
	DefaultCalendarID = "primary"
	DefaultTimezone   = "America/Sao_Paulo"
)

// GoogleService implements Service on top of the Google Calendar API.
type GoogleService struct {
	svc        *gcal.Service
	calendarID string
	location   *time.Location
}

// Opts holds configuration for the Google Calendar backend.
type Opts struct {
	CredentialsFile string
	CalendarID      string
	Timezone        string
	HTTPClient      *http.Client
}

// Option configures the Google Calendar backend.
type Option func(*Opts)

// WithCredentialsFile sets the path to the service account credentials JSON.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) {
		o.CredentialsFile = path
	}
}

// WithCalendarID sets the calendar to operate on. Defaults to "primary".
func WithCalendarID(id string) Option {
	return func(o *Opts) {
		o.CalendarID = id
	}
}

// WithTimezone sets the clinic timezone used for event times.
func WithTimezone(tz string) Option {
	return func(o *Opts) {
		o.Timezone = tz
	}
}

// WithHTTPClient overrides the HTTP client used to reach the API.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// NewGoogleService creates a Google Calendar backed Service.
func NewGoogleService(ctx context.Context, opts ...Option) (*GoogleService, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.CalendarID == "" {
		o.CalendarID = DefaultCalendarID
	}
	if o.Timezone == "" {
		o.Timezone = DefaultTimezone
	}

	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return nil, fmt.Errorf("NewGoogleService: invalid timezone %q: %w", o.Timezone, err)
	}

	var clientOpts []option.ClientOption
	if o.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(o.HTTPClient))
	} else if o.CredentialsFile != "" {
		clientOpts = append(clientOpts,
			option.WithCredentialsFile(o.CredentialsFile),
			option.WithScopes(gcal.CalendarScope))
	}

	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("NewGoogleService: failed to create calendar client: %w", err)
	}

	slog.Info("NewGoogleService: calendar client ready", "calendarID", o.CalendarID, "timezone", o.Timezone)
	return &GoogleService{svc: svc, calendarID: o.CalendarID, location: loc}, nil
}

// ListSlots generates 30-minute-stepped slots between start and end and marks
// each one available unless it overlaps an existing event.
func (g *GoogleService) ListSlots(ctx context.Context, start, end time.Time, durationMinutes int) ([]TimeSlot, error) {
	start = start.In(g.location)
	end = end.In(g.location)

	result, err := g.svc.Events.List(g.calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).Do()
	if err != nil {
		slog.Error("GoogleService.ListSlots: failed to list events", "error", err, "calendarID", g.calendarID)
		return nil, fmt.Errorf("ListSlots: %w: %w", models.ErrCalendarUnavailable, err)
	}

	busy := make([][2]time.Time, 0, len(result.Items))
	for _, item := range result.Items {
		evStart, evEnd, ok := eventWindow(item)
		if !ok {
			continue
		}
		busy = append(busy, [2]time.Time{evStart, evEnd})
	}

	var slots []TimeSlot
	duration := time.Duration(durationMinutes) * time.Minute
	for current := start; current.Before(end); current = current.Add(30 * time.Minute) {
		slotEnd := current.Add(duration)
		slots = append(slots, TimeSlot{
			Start:     current,
			End:       slotEnd,
			Available: !overlapsAny(current, slotEnd, busy),
		})
	}
	slog.Debug("GoogleService.ListSlots: generated slots", "count", len(slots), "busy", len(busy))
	return slots, nil
}

// BookSlot creates the event and returns its provider ID. A window that
// overlaps an existing event is rejected before any insert happens.
func (g *GoogleService) BookSlot(ctx context.Context, event Event) (string, error) {
	conflict, err := g.hasConflict(ctx, event.Start, event.End)
	if err != nil {
		return "", err
	}
	if conflict {
		slog.Info("GoogleService.BookSlot: slot already taken", "start", event.Start, "end", event.End)
		return "", fmt.Errorf("BookSlot: slot %s is not available: %w", event.Start.Format(time.RFC3339), models.ErrBookingFailed)
	}

	created, err := g.svc.Events.Insert(g.calendarID, g.toAPIEvent(event)).Context(ctx).Do()
	if err != nil {
		slog.Error("GoogleService.BookSlot: failed to insert event", "error", err, "start", event.Start)
		return "", fmt.Errorf("BookSlot: %w: %w", models.ErrCalendarUnavailable, err)
	}
	slog.Info("GoogleService.BookSlot: event created", "eventID", created.Id, "start", event.Start)
	return created.Id, nil
}

// GetEvent fetches an event by ID, returning (nil, nil) when it no longer
// exists.
func (g *GoogleService) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	item, err := g.svc.Events.Get(g.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("GoogleService.GetEvent: failed to fetch event", "error", err, "eventID", eventID)
		return nil, fmt.Errorf("GetEvent: %w: %w", models.ErrCalendarUnavailable, err)
	}

	start, end, _ := eventWindow(item)
	ev := &Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
	}
	for _, a := range item.Attendees {
		ev.Attendees = append(ev.Attendees, a.Email)
	}
	return ev, nil
}

// UpdateEvent rewrites an existing event in place.
func (g *GoogleService) UpdateEvent(ctx context.Context, event Event) error {
	_, err := g.svc.Events.Update(g.calendarID, event.ID, g.toAPIEvent(event)).Context(ctx).Do()
	if err != nil {
		slog.Error("GoogleService.UpdateEvent: failed to update event", "error", err, "eventID", event.ID)
		return fmt.Errorf("UpdateEvent: %w: %w", models.ErrCalendarUnavailable, err)
	}
	slog.Info("GoogleService.UpdateEvent: event updated", "eventID", event.ID)
	return nil
}

// CancelEvent removes an event. Deleting an already-deleted event is not an
// error.
func (g *GoogleService) CancelEvent(ctx context.Context, eventID string) error {
	if err := g.svc.Events.Delete(g.calendarID, eventID).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			slog.Debug("GoogleService.CancelEvent: event already gone", "eventID", eventID)
			return nil
		}
		slog.Error("GoogleService.CancelEvent: failed to delete event", "error", err, "eventID", eventID)
		return fmt.Errorf("CancelEvent: %w: %w", models.ErrCalendarUnavailable, err)
	}
	slog.Info("GoogleService.CancelEvent: event cancelled", "eventID", eventID)
	return nil
}

func (g *GoogleService) hasConflict(ctx context.Context, start, end time.Time) (bool, error) {
	result, err := g.svc.Events.List(g.calendarID).
		TimeMin(start.In(g.location).Format(time.RFC3339)).
		TimeMax(end.In(g.location).Format(time.RFC3339)).
		SingleEvents(true).
		Context(ctx).Do()
	if err != nil {
		slog.Error("GoogleService.hasConflict: failed to list events", "error", err)
		return false, fmt.Errorf("BookSlot: %w: %w", models.ErrCalendarUnavailable, err)
	}
	for _, item := range result.Items {
		evStart, evEnd, ok := eventWindow(item)
		if !ok {
			continue
		}
		if start.Before(evEnd) && end.After(evStart) {
			return true, nil
		}
	}
	return false, nil
}

func (g *GoogleService) toAPIEvent(event Event) *gcal.Event {
	body := &gcal.Event{
		Summary:     event.Title,
		Description: event.Description,
		Start: &gcal.EventDateTime{
			DateTime: event.Start.In(g.location).Format(time.RFC3339),
			TimeZone: g.location.String(),
		},
		End: &gcal.EventDateTime{
			DateTime: event.End.In(g.location).Format(time.RFC3339),
			TimeZone: g.location.String(),
		},
	}
	for _, email := range event.Attendees {
		body.Attendees = append(body.Attendees, &gcal.EventAttendee{Email: email})
	}
	return body
}

func eventWindow(item *gcal.Event) (time.Time, time.Time, bool) {
	if item.Start == nil || item.End == nil {
		return time.Time{}, time.Time{}, false
	}
	startStr := item.Start.DateTime
	if startStr == "" {
		startStr = item.Start.Date
	}
	endStr := item.End.DateTime
	if endStr == "" {
		endStr = item.End.Date
	}
	start, err := parseEventTime(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := parseEventTime(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func parseEventTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func overlapsAny(start, end time.Time, busy [][2]time.Time) bool {
	for _, window := range busy {
		if start.Before(window[1]) && end.After(window[0]) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}
