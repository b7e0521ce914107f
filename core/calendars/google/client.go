// Package google implements the calendar gateway against the Google
// Calendar v3 REST API: free/busy queries, event search, and event
// mutations on a single calendar.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/koscakluka/booking-core/core/calendars"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Client talks to one Google calendar. It implements
// calendars.Gateway.
type Client struct {
	accessToken string
	calendarID  string
	baseURL     string
	client      *http.Client
}

// NewClient creates a gateway for calendarID authenticated with an
// OAuth access token.
func NewClient(accessToken, calendarID string, opts ...ClientOption) *Client {
	client := &Client{
		accessToken: accessToken,
		calendarID:  calendarID,
		baseURL:     defaultBaseURL,
		client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type ClientOption func(*Client)

// WithBaseURL points the client at a different API host, such as a test
// server.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the default instrumented client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.client = client }
}

// FindBusySlots queries free/busy for the window.
func (c *Client) FindBusySlots(ctx context.Context, window calendars.TimeWindow) ([]calendars.TimeWindow, error) {
	ctx, span := tracer.Start(ctx, "find busy slots")
	defer span.End()

	reqBody := freeBusyRequest{
		TimeMin: window.Start.Format(time.RFC3339),
		TimeMax: window.End.Format(time.RFC3339),
		Items:   []freeBusyItem{{ID: c.calendarID}},
	}

	var response freeBusyResponse
	if err := c.do(ctx, "POST", c.baseURL+"/freeBusy", reqBody, &response); err != nil {
		err = fmt.Errorf("error querying free/busy: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}

	busy := []calendars.TimeWindow{}
	for _, period := range response.Calendars[c.calendarID].Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			err = fmt.Errorf("error parsing busy period start: %w", err)
			span.RecordError(err)
			return nil, err
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			err = fmt.Errorf("error parsing busy period end: %w", err)
			span.RecordError(err)
			return nil, err
		}
		busy = append(busy, calendars.TimeWindow{Start: start, End: end})
	}

	span.SetAttributes(attribute.Int("response.busy_periods", len(busy)))
	return busy, nil
}

// FindEvent searches the calendar by free text, optionally narrowed to
// a window. All-day and cancelled events are skipped.
func (c *Client) FindEvent(ctx context.Context, query string, window *calendars.TimeWindow) ([]calendars.Event, error) {
	ctx, span := tracer.Start(ctx, "find event")
	defer span.End()
	span.SetAttributes(attribute.String("request.query", query))

	values := url.Values{}
	values.Set("q", query)
	values.Set("singleEvents", "true")
	values.Set("orderBy", "startTime")
	if window != nil {
		values.Set("timeMin", window.Start.Format(time.RFC3339))
		values.Set("timeMax", window.End.Format(time.RFC3339))
	}

	var response eventListResponse
	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(c.calendarID), values.Encode())
	if err := c.do(ctx, "GET", endpoint, nil, &response); err != nil {
		err = fmt.Errorf("error listing events: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}

	events := []calendars.Event{}
	for _, item := range response.Items {
		if item.Status == "cancelled" {
			continue
		}
		if item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
			continue
		}
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			continue
		}
		events = append(events, calendars.Event{
			ID:          item.ID,
			Title:       item.Summary,
			Window:      calendars.TimeWindow{Start: start, End: end},
			Description: item.Description,
		})
	}

	span.SetAttributes(attribute.Int("response.events", len(events)))
	return events, nil
}

// CreateEvent inserts a new event and returns its id.
func (c *Client) CreateEvent(ctx context.Context, spec calendars.EventSpec) (string, error) {
	ctx, span := tracer.Start(ctx, "create event")
	defer span.End()

	reqBody := eventResource{
		Summary:     spec.Title,
		Description: spec.Description,
		Start:       &eventTime{DateTime: spec.Window.Start.Format(time.RFC3339)},
		End:         &eventTime{DateTime: spec.Window.End.Format(time.RFC3339)},
	}

	var created eventResource
	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(c.calendarID))
	if err := c.do(ctx, "POST", endpoint, reqBody, &created); err != nil {
		err = fmt.Errorf("error creating event: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}

	span.SetAttributes(attribute.String("response.event_id", created.ID))
	return created.ID, nil
}

// UpdateEvent patches only the fields the update names.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, update calendars.EventUpdate) error {
	ctx, span := tracer.Start(ctx, "update event")
	defer span.End()
	span.SetAttributes(attribute.String("request.event_id", eventID))

	patch := eventResource{}
	if update.Title != nil {
		patch.Summary = *update.Title
	}
	if update.Window != nil {
		patch.Start = &eventTime{DateTime: update.Window.Start.Format(time.RFC3339)}
		patch.End = &eventTime{DateTime: update.Window.End.Format(time.RFC3339)}
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, url.PathEscape(c.calendarID), url.PathEscape(eventID))
	if err := c.do(ctx, "PATCH", endpoint, patch, nil); err != nil {
		err = fmt.Errorf("error updating event: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return err
	}
	return nil
}

// DeleteEvent removes the event. Deleting an already-gone event returns
// calendars.ErrEventNotFound.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	ctx, span := tracer.Start(ctx, "delete event")
	defer span.End()
	span.SetAttributes(attribute.String("request.event_id", eventID))

	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, url.PathEscape(c.calendarID), url.PathEscape(eventID))
	if err := c.do(ctx, "DELETE", endpoint, nil, nil); err != nil {
		err = fmt.Errorf("error deleting event: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshalling JSON: %w", err)
		}
		reader = bytes.NewBuffer(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	// Gone means the event was already deleted.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return calendars.ErrEventNotFound
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if errorBody, readErr := io.ReadAll(resp.Body); readErr == nil && len(errorBody) > 0 {
			logger.WarnContext(ctx, "calendar API error",
				"status", resp.Status, "body", string(errorBody))
		}
		return fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if err := json.Unmarshal(respBodyBytes, out); err != nil {
		return fmt.Errorf("error unmarshalling response: %w", err)
	}
	return nil
}

type freeBusyRequest struct {
	TimeMin string         `json:"timeMin"`
	TimeMax string         `json:"timeMax"`
	Items   []freeBusyItem `json:"items"`
}

type freeBusyItem struct {
	ID string `json:"id"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type eventResource struct {
	ID          string     `json:"id,omitempty"`
	Status      string     `json:"status,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Description string     `json:"description,omitempty"`
	Start       *eventTime `json:"start,omitempty"`
	End         *eventTime `json:"end,omitempty"`
}

type eventListResponse struct {
	Items []eventResource `json:"items"`
}
