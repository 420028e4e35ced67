package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	calendarBaseURL      = "https://www.googleapis.com/calendar/v3"
	defaultCalendarID    = "primary"
	defaultWindow        = 4 * time.Hour
	defaultCalendarLimit = 10
)

// CalendarConfig selects which calendar and time window are polled.
type CalendarConfig struct {
	CalendarID string
	Window     time.Duration
	MaxResults int
}

// Calendar lists upcoming events within a window starting now.
type Calendar struct {
	tokens     TokenProvider
	cfg        CalendarConfig
	baseURL    string
	now        func() time.Time
	httpClient *http.Client
}

// NewCalendar creates a Calendar source. Zero config fields use defaults.
func NewCalendar(tokens TokenProvider, cfg CalendarConfig) *Calendar {
	if cfg.CalendarID == "" {
		cfg.CalendarID = defaultCalendarID
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultCalendarLimit
	}
	return &Calendar{
		tokens:     tokens,
		cfg:        cfg,
		baseURL:    calendarBaseURL,
		now:        time.Now,
		httpClient: newHTTPClient(),
	}
}

// WithBaseURL points the source at a different API root.
func (c *Calendar) WithBaseURL(u string) *Calendar {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *Calendar) Name() string { return "calendar" }

type calendarEvents struct {
	Items []struct {
		ID          string `json:"id"`
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Start       struct {
			DateTime string `json:"dateTime"`
			Date     string `json:"date"`
		} `json:"start"`
	} `json:"items"`
}

// Fetch implements Source.
func (c *Calendar) Fetch(ctx context.Context) ([]Event, error) {
	now := c.now().UTC()
	q := url.Values{}
	q.Set("timeMin", now.Format(time.RFC3339))
	q.Set("timeMax", now.Add(c.cfg.Window).Format(time.RFC3339))
	q.Set("maxResults", strconv.Itoa(c.cfg.MaxResults))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")

	u := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(c.cfg.CalendarID), q.Encode())
	var resp calendarEvents
	if err := getJSON(ctx, c.httpClient, c.tokens, u, &resp); err != nil {
		return nil, &FetchError{Source: c.Name(), Err: err}
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		title := item.Summary
		if title == "" {
			title = "No Title"
		}
		start := item.Start.DateTime
		if start == "" {
			start = item.Start.Date
		}
		events = append(events, Event{
			SourceID:  item.ID,
			Title:     title,
			Timestamp: start,
			Detail:    PlainText(item.Description),
		})
	}
	return events, nil
}

// ClockTime returns the time-of-day part of an RFC 3339 timestamp, without
// the zone offset. All-day dates are returned unchanged.
func ClockTime(ts string) string {
	_, clock, ok := strings.Cut(ts, "T")
	if !ok {
		return ts
	}
	if i := strings.IndexAny(clock, "Z+-"); i >= 0 {
		clock = clock[:i]
	}
	return clock
}
