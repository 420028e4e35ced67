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
	gmailBaseURL       = "https://gmail.googleapis.com/gmail/v1"
	defaultGmailLimit  = 5
	defaultNoSubject   = "No Subject"
	defaultUnknownFrom = "Unknown"
)

// Gmail lists the newest unread inbox messages.
type Gmail struct {
	tokens     TokenProvider
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// NewGmail creates a Gmail source listing up to maxResults unread messages
// per fetch. A non-positive maxResults uses 5.
func NewGmail(tokens TokenProvider, maxResults int) *Gmail {
	if maxResults <= 0 {
		maxResults = defaultGmailLimit
	}
	return &Gmail{
		tokens:     tokens,
		baseURL:    gmailBaseURL,
		maxResults: maxResults,
		httpClient: newHTTPClient(),
	}
}

// WithBaseURL points the source at a different API root.
func (g *Gmail) WithBaseURL(u string) *Gmail {
	g.baseURL = strings.TrimRight(u, "/")
	return g
}

func (g *Gmail) Name() string { return "email" }

type gmailList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type gmailMessage struct {
	ID           string `json:"id"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (m gmailMessage) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Fetch implements Source.
func (g *Gmail) Fetch(ctx context.Context) ([]Event, error) {
	q := url.Values{}
	q.Add("labelIds", "INBOX")
	q.Add("labelIds", "UNREAD")
	q.Set("maxResults", strconv.Itoa(g.maxResults))

	var list gmailList
	if err := getJSON(ctx, g.httpClient, g.tokens, g.baseURL+"/users/me/messages?"+q.Encode(), &list); err != nil {
		return nil, &FetchError{Source: g.Name(), Err: err}
	}

	events := make([]Event, 0, len(list.Messages))
	for _, ref := range list.Messages {
		mq := url.Values{}
		mq.Set("format", "metadata")
		mq.Add("metadataHeaders", "From")
		mq.Add("metadataHeaders", "Subject")

		var msg gmailMessage
		u := fmt.Sprintf("%s/users/me/messages/%s?%s", g.baseURL, url.PathEscape(ref.ID), mq.Encode())
		if err := getJSON(ctx, g.httpClient, g.tokens, u, &msg); err != nil {
			return nil, &FetchError{Source: g.Name(), Err: fmt.Errorf("message %s: %w", ref.ID, err)}
		}

		subject := msg.header("Subject")
		if subject == "" {
			subject = defaultNoSubject
		}
		from := msg.header("From")
		if from == "" {
			from = defaultUnknownFrom
		}
		events = append(events, Event{
			SourceID:  ref.ID,
			Title:     subject,
			Sender:    from,
			Detail:    PlainText(msg.Snippet),
			Timestamp: receivedAt(msg.InternalDate),
		})
	}
	return events, nil
}

// receivedAt renders Gmail's internalDate (epoch milliseconds) as RFC 3339.
func receivedAt(ms string) string {
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return ms
	}
	return time.UnixMilli(n).UTC().Format(time.RFC3339)
}
