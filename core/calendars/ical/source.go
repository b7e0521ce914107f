// Package ical implements the calendar gateway over a published
// iCalendar feed. The feed is a one-way export, so busy queries and
// event search work but mutations fail with ErrReadOnly.
package ical

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/koscakluka/booking-core/core/calendars"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// ErrReadOnly is returned by every mutating call; iCalendar feeds
// cannot be written through.
var ErrReadOnly = errors.New("ical calendar feeds are read-only")

// Source reads one iCalendar feed. It implements calendars.Gateway
// with read-only semantics.
type Source struct {
	url    string
	client *http.Client
}

// NewSource creates a source reading the feed at url.
func NewSource(url string, opts ...SourceOption) *Source {
	source := &Source{
		url:    url,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(source)
	}
	return source
}

type SourceOption func(*Source)

// WithHTTPClient overrides the default instrumented client.
func WithHTTPClient(client *http.Client) SourceOption {
	return func(s *Source) { s.client = client }
}

// FindBusySlots reports the windows of feed events overlapping the
// queried window.
func (s *Source) FindBusySlots(ctx context.Context, window calendars.TimeWindow) ([]calendars.TimeWindow, error) {
	ctx, span := tracer.Start(ctx, "find busy slots")
	defer span.End()

	events, err := s.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}

	busy := []calendars.TimeWindow{}
	for _, event := range events {
		if event.Window.Overlaps(window) {
			busy = append(busy, event.Window)
		}
	}

	span.SetAttributes(attribute.Int("response.busy_periods", len(busy)))
	return busy, nil
}

// FindEvent matches feed events whose title contains the query,
// case-insensitively, optionally narrowed to a window.
func (s *Source) FindEvent(ctx context.Context, query string, window *calendars.TimeWindow) ([]calendars.Event, error) {
	ctx, span := tracer.Start(ctx, "find event")
	defer span.End()
	span.SetAttributes(attribute.String("request.query", query))

	events, err := s.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}

	needle := strings.ToLower(query)
	matches := []calendars.Event{}
	for _, event := range events {
		if !strings.Contains(strings.ToLower(event.Title), needle) {
			continue
		}
		if window != nil && !event.Window.Overlaps(*window) {
			continue
		}
		matches = append(matches, event)
	}

	span.SetAttributes(attribute.Int("response.events", len(matches)))
	return matches, nil
}

// CreateEvent always fails with ErrReadOnly.
func (s *Source) CreateEvent(ctx context.Context, spec calendars.EventSpec) (string, error) {
	return "", ErrReadOnly
}

// UpdateEvent always fails with ErrReadOnly.
func (s *Source) UpdateEvent(ctx context.Context, eventID string, update calendars.EventUpdate) error {
	return ErrReadOnly
}

// DeleteEvent always fails with ErrReadOnly.
func (s *Source) DeleteEvent(ctx context.Context, eventID string) error {
	return ErrReadOnly
}

func (s *Source) fetch(ctx context.Context) ([]calendars.Event, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}

	return parseFeed(resp.Body)
}

func parseFeed(feed io.Reader) ([]calendars.Event, error) {
	decoder := goical.NewDecoder(feed)

	events := []calendars.Event{}
	for {
		cal, err := decoder.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error decoding calendar: %w", err)
		}

		for _, comp := range cal.Children {
			if comp.Name != goical.CompEvent {
				continue
			}
			event, ok := parseEvent(comp)
			if !ok {
				continue
			}
			events = append(events, event)
		}
	}

	return events, nil
}

// parseEvent maps one VEVENT; cancelled and all-day entries report
// false.
func parseEvent(comp *goical.Component) (calendars.Event, bool) {
	if statusProp := comp.Props.Get(goical.PropStatus); statusProp != nil && statusProp.Value == "CANCELLED" {
		return calendars.Event{}, false
	}

	startProp := comp.Props.Get(goical.PropDateTimeStart)
	endProp := comp.Props.Get(goical.PropDateTimeEnd)
	if startProp == nil || endProp == nil {
		return calendars.Event{}, false
	}
	// Date-only values mark all-day events.
	if !strings.Contains(startProp.Value, "T") {
		return calendars.Event{}, false
	}

	start, err := startProp.DateTime(time.UTC)
	if err != nil {
		return calendars.Event{}, false
	}
	end, err := endProp.DateTime(time.UTC)
	if err != nil {
		return calendars.Event{}, false
	}

	event := calendars.Event{Window: calendars.TimeWindow{Start: start, End: end}}
	if uidProp := comp.Props.Get(goical.PropUID); uidProp != nil {
		event.ID = uidProp.Value
	}
	if summaryProp := comp.Props.Get(goical.PropSummary); summaryProp != nil {
		event.Title = summaryProp.Value
	}
	if descProp := comp.Props.Get(goical.PropDescription); descProp != nil {
		event.Description = descProp.Value
	}
	return event, true
}
