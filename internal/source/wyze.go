package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	wyzeBaseURL     = "https://api.wyzecam.com"
	defaultLookback = 15 * time.Minute
	wyzeEventLimit  = 20
	clockLayout     = "03:04 PM"
)

// Camera is one monitored Wyze camera.
type Camera struct {
	Name string
	MAC  string
}

// Wyze lists recent camera events for the configured cameras.
type Wyze struct {
	tokens     TokenProvider
	cameras    []Camera
	lookback   time.Duration
	baseURL    string
	now        func() time.Time
	httpClient *http.Client
}

// NewWyze creates a Wyze source. A non-positive lookback uses 15 minutes.
func NewWyze(tokens TokenProvider, cameras []Camera, lookback time.Duration) *Wyze {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &Wyze{
		tokens:     tokens,
		cameras:    cameras,
		lookback:   lookback,
		baseURL:    wyzeBaseURL,
		now:        time.Now,
		httpClient: newHTTPClient(),
	}
}

// WithBaseURL points the source at a different API root.
func (w *Wyze) WithBaseURL(u string) *Wyze {
	w.baseURL = strings.TrimRight(u, "/")
	return w
}

func (w *Wyze) Name() string { return "wyze" }

type wyzeEventRequest struct {
	AccessToken   string   `json:"access_token"`
	DeviceMACList []string `json:"device_mac_list"`
	BeginTime     int64    `json:"begin_time"`
	EndTime       int64    `json:"end_time"`
	Count         int      `json:"count"`
	OrderBy       int      `json:"order_by"`
}

type wyzeEventResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		EventList []struct {
			EventID    string `json:"event_id"`
			DeviceMAC  string `json:"device_mac"`
			EventTS    int64  `json:"event_ts"`
			EventValue string `json:"event_value"`
		} `json:"event_list"`
	} `json:"data"`
}

// Fetch implements Source. Events are returned oldest-first.
func (w *Wyze) Fetch(ctx context.Context) ([]Event, error) {
	if len(w.cameras) == 0 {
		return nil, nil
	}

	token, err := w.tokens.Token(ctx)
	if err != nil {
		return nil, &FetchError{Source: w.Name(), Err: err}
	}

	names := make(map[string]string, len(w.cameras))
	macs := make([]string, 0, len(w.cameras))
	for _, c := range w.cameras {
		names[c.MAC] = c.Name
		macs = append(macs, c.MAC)
	}

	now := w.now()
	body, err := json.Marshal(wyzeEventRequest{
		AccessToken:   token,
		DeviceMACList: macs,
		BeginTime:     now.Add(-w.lookback).UnixMilli(),
		EndTime:       now.UnixMilli(),
		Count:         wyzeEventLimit,
		OrderBy:       1,
	})
	if err != nil {
		return nil, &FetchError{Source: w.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/app/v2/device/get_event_list", bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Source: w.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Source: w.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: w.Name(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var out wyzeEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &FetchError{Source: w.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if out.Code != "1" {
		return nil, &FetchError{Source: w.Name(), Err: errors.New("wyze api: " + out.Msg)}
	}

	events := make([]Event, 0, len(out.Data.EventList))
	for _, e := range out.Data.EventList {
		name := names[e.DeviceMAC]
		if name == "" {
			name = e.DeviceMAC
		}
		events = append(events, Event{
			SourceID:  e.EventID,
			Title:     name,
			Detail:    eventKind(e.EventValue),
			Timestamp: time.UnixMilli(e.EventTS).Local().Format(clockLayout),
		})
	}
	return events, nil
}

func eventKind(v string) string {
	switch v {
	case "1":
		return "motion_detected"
	case "2":
		return "sound_detected"
	case "4":
		return "person_detected"
	case "13":
		return "smoke_alarm"
	default:
		return "camera_event"
	}
}
