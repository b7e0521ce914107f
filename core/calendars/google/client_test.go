package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/koscakluka/booking-core/core/calendars"
	"github.com/koscakluka/booking-core/internal/utils"
)

func TestFindBusySlotsParsesFreeBusyResponse(t *testing.T) {
	var captured freeBusyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/freeBusy" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("unexpected authorization %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(`{
			"calendars": {
				"primary": {
					"busy": [
						{"start": "2026-07-02T15:30:00Z", "end": "2026-07-02T16:30:00Z"},
						{"start": "2026-07-02T18:00:00Z", "end": "2026-07-02T19:00:00Z"}
					]
				}
			}
		}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "primary", WithBaseURL(server.URL))
	busy, err := client.FindBusySlots(context.Background(), calendars.TimeWindow{
		Start: time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 7, 3, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("expected free/busy query to succeed, got %v", err)
	}

	if captured.TimeMin != "2026-07-02T00:00:00Z" {
		t.Fatalf("expected the window start in timeMin, got %q", captured.TimeMin)
	}
	if len(captured.Items) != 1 || captured.Items[0].ID != "primary" {
		t.Fatalf("expected the calendar id in items, got %+v", captured.Items)
	}
	if len(busy) != 2 {
		t.Fatalf("expected 2 busy periods, got %d", len(busy))
	}
	if !busy[0].Start.Equal(time.Date(2026, 7, 2, 15, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected the first busy period at 15:30, got %s", busy[0].Start)
	}
}

func TestFindEventSkipsCancelledAndAllDayEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendars/primary/events" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if q := r.URL.Query().Get("q"); q != "project sync" {
			t.Errorf("unexpected query %q", q)
		}
		w.Write([]byte(`{
			"items": [
				{
					"id": "evt-1", "summary": "Project Sync",
					"start": {"dateTime": "2026-07-06T15:00:00Z"},
					"end": {"dateTime": "2026-07-06T16:00:00Z"}
				},
				{
					"id": "evt-cancelled", "summary": "Project Sync", "status": "cancelled",
					"start": {"dateTime": "2026-07-07T15:00:00Z"},
					"end": {"dateTime": "2026-07-07T16:00:00Z"}
				},
				{
					"id": "evt-allday", "summary": "Project Sync Offsite",
					"start": {}, "end": {}
				}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "primary", WithBaseURL(server.URL))
	events, err := client.FindEvent(context.Background(), "project sync", nil)
	if err != nil {
		t.Fatalf("expected event search to succeed, got %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 usable event, got %d", len(events))
	}
	if events[0].ID != "evt-1" || events[0].Title != "Project Sync" {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestFindEventNarrowsSearchToWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if min := r.URL.Query().Get("timeMin"); min != "2026-07-06T00:00:00Z" {
			t.Errorf("unexpected timeMin %q", min)
		}
		if max := r.URL.Query().Get("timeMax"); max != "2026-07-13T00:00:00Z" {
			t.Errorf("unexpected timeMax %q", max)
		}
		w.Write([]byte(`{"items": []}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "primary", WithBaseURL(server.URL))
	window := calendars.TimeWindow{
		Start: time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 7, 13, 0, 0, 0, 0, time.UTC),
	}
	if _, err := client.FindEvent(context.Background(), "standup", &window); err != nil {
		t.Fatalf("expected event search to succeed, got %v", err)
	}
}

func TestCreateEventReturnsAssignedID(t *testing.T) {
	var captured eventResource
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/calendars/primary/events" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(`{"id": "evt-new"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "primary", WithBaseURL(server.URL))
	id, err := client.CreateEvent(context.Background(), calendars.EventSpec{
		Title: "Project Sync",
		Window: calendars.TimeWindow{
			Start: time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 7, 2, 16, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("expected create to succeed, got %v", err)
	}

	if id != "evt-new" {
		t.Fatalf("expected the assigned id, got %q", id)
	}
	if captured.Summary != "Project Sync" {
		t.Fatalf("expected the title as summary, got %q", captured.Summary)
	}
	if captured.Start == nil || captured.Start.DateTime != "2026-07-02T15:00:00Z" {
		t.Fatalf("expected the window start, got %+v", captured.Start)
	}
}

func TestUpdateEventPatchesOnlyNamedFields(t *testing.T) {
	var rawPatch map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PATCH" || r.URL.Path != "/calendars/primary/events/evt-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&rawPatch); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(`{"id": "evt-1"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "primary", WithBaseURL(server.URL))
	err := client.UpdateEvent(context.Background(), "evt-1", calendars.EventUpdate{
		Window: &calendars.TimeWindow{
			Start: time.Date(2026, 7, 2, 17, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 7, 2, 18, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("expected update to succeed, got %v", err)
	}

	if _, ok := rawPatch["summary"]; ok {
		t.Fatalf("expected an untouched title to stay out of the patch")
	}
	if _, ok := rawPatch["start"]; !ok {
		t.Fatalf("expected the new window in the patch")
	}

	if err := client.UpdateEvent(context.Background(), "evt-1", calendars.EventUpdate{
		Title: utils.Ptr("Renamed"),
	}); err != nil {
		t.Fatalf("expected title-only update to succeed, got %v", err)
	}
}

func TestDeleteEventMapsGoneToNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	client := NewClient("test-token", "primary", WithBaseURL(server.URL))
	err := client.DeleteEvent(context.Background(), "evt-gone")
	if !errors.Is(err, calendars.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}
