package afad

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

const requestLayout = "2006-01-02 15:04:05"

// Client fetches events from the AFAD event filter endpoint.
type Client struct {
	url    string
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates an AFAD client. Retries are disabled; the timeout bounds
// each Fetch call.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		url:    url,
		http:   httpClient,
		logger: logger,
	}
}

// Name returns the source tag attached to every event from this provider.
func (c *Client) Name() domain.Source { return domain.SourceAFAD }

// Fetch posts the filter and maps the returned entries.
func (c *Client) Fetch(ctx context.Context, params domain.FetchParams) ([]domain.Event, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(newFilterRequest(params)).
		Post(c.url)
	if err != nil {
		return nil, c.fail("request", err)
	}
	if resp.IsError() {
		return nil, c.fail("request", fmt.Errorf("status %d: %s", resp.StatusCode(), truncate(resp.String(), 512)))
	}

	var payload response
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, c.fail("decode response", err)
	}
	if payload.Success == nil {
		return nil, c.fail("decode response", errors.New("missing success flag"))
	}
	if !*payload.Success {
		return nil, c.fail("request", fmt.Errorf("provider reported failure: %s", payload.Message))
	}

	events := make([]domain.Event, 0, len(payload.Data))
	for i, entry := range payload.Data {
		e, err := c.toEvent(entry)
		if err != nil {
			return nil, c.fail("decode response", fmt.Errorf("entry %d (%s): %w", i, e.ID, err))
		}
		events = append(events, e)
	}

	c.logger.Debug("afad fetch complete", "events", len(events))
	return events, nil
}

func (c *Client) toEvent(entry entry) (domain.Event, error) {
	e := domain.Event{
		ID:        domain.FirstNonEmpty("", string(entry.ID), string(entry.EventID)),
		Latitude:  entry.Latitude.Float64(),
		Longitude: entry.Longitude.Float64(),
		Magnitude: entry.Magnitude.Float64(),
		Depth:     entry.Depth.Float64(),
		Source:    domain.SourceAFAD,
	}

	date, clock, ts, err := domain.ParseDateTime(combineDateTime(entry.Date, entry.Time))
	if err != nil {
		return e, err
	}
	e.Date, e.Time, e.Timestamp = date, clock, ts

	e.Location = domain.FirstNonEmpty(domain.UnknownLocation, entry.Location, entry.District, entry.Province)
	e.Province = domain.OptionalText(entry.Province)
	e.District = domain.OptionalText(entry.District)

	return domain.ScoreAnomaly(e), nil
}

// combineDateTime joins separate date and time fields. A date that already
// carries a clock ("2024-01-15T12:00:00") is trimmed to its date part when a
// separate time is present.
func combineDateTime(date, clock string) string {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if clock == "" {
		return date
	}
	if i := strings.IndexAny(date, "T "); i > 0 {
		date = date[:i]
	}
	return date + " " + clock
}

func (c *Client) fail(op string, err error) *domain.ProviderError {
	return &domain.ProviderError{
		Provider: domain.SourceAFAD,
		Op:       op,
		Timeout:  isTimeout(err),
		Err:      err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// AFAD API request and response types.

type filterRequest struct {
	StartDate    string   `json:"startDate,omitempty"`
	EndDate      string   `json:"endDate,omitempty"`
	MinMagnitude *float64 `json:"minMagnitude,omitempty"`
	MaxMagnitude *float64 `json:"maxMagnitude,omitempty"`
	MinDepth     *float64 `json:"minDepth,omitempty"`
	MaxDepth     *float64 `json:"maxDepth,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

func newFilterRequest(p domain.FetchParams) filterRequest {
	req := filterRequest{
		MinMagnitude: p.MinMagnitude,
		MaxMagnitude: p.MaxMagnitude,
		MinDepth:     p.MinDepth,
		MaxDepth:     p.MaxDepth,
		Limit:        p.Limit,
	}
	if p.Start != nil {
		req.StartDate = p.Start.In(domain.ReportingZone).Format(requestLayout)
	}
	if p.End != nil {
		req.EndDate = p.End.In(domain.ReportingZone).Format(requestLayout)
	}
	return req
}

type response struct {
	Success *bool   `json:"success"`
	Data    []entry `json:"data"`
	Message string  `json:"message"`
}

type entry struct {
	ID        textOrNumber `json:"id"`
	EventID   textOrNumber `json:"eventID"`
	Date      string       `json:"date"`
	Time      string       `json:"time"`
	Latitude  domain.Float `json:"latitude"`
	Longitude domain.Float `json:"longitude"`
	Magnitude domain.Float `json:"magnitude"`
	Depth     domain.Float `json:"depth"`
	Location  string       `json:"location"`
	Province  string       `json:"province"`
	District  string       `json:"district"`
}

// textOrNumber decodes an identifier sent either as a string or a number.
type textOrNumber string

func (t *textOrNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = textOrNumber(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*t = textOrNumber(data)
	return nil
}
