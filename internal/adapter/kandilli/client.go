package kandilli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

const userAgent = "quake-data-etl/1.0"

// queryLayout is the date-time encoding the API expects in date_starts and
// date_ends.
const queryLayout = "2006-01-02 15:04:05"

// Client fetches recent events from the Kandilli Observatory live feed.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Kandilli client. The timeout bounds each Fetch call.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Name returns the source tag attached to every event from this provider.
func (c *Client) Name() domain.Source { return domain.SourceKandilli }

// Fetch performs a single GET against the live feed. It never retries.
func (c *Client) Fetch(ctx context.Context, params domain.FetchParams) ([]domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+encodeQuery(params).Encode(), nil)
	if err != nil {
		return nil, c.fail("create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail("request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, c.fail("request", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, c.fail("decode response", err)
	}
	if payload.Status == nil {
		return nil, c.fail("decode response", errors.New("missing status flag"))
	}
	if !*payload.Status {
		return nil, c.fail("request", fmt.Errorf("provider reported failure: %s", payload.Desc))
	}

	events := make([]domain.Event, 0, len(payload.Result))
	for i, entry := range payload.Result {
		if len(entry.GeoJSON.Coordinates) != 2 {
			return nil, c.fail("decode response", fmt.Errorf("entry %d (%s): expected [lon, lat], got %d coordinates",
				i, entry.EarthquakeID, len(entry.GeoJSON.Coordinates)))
		}
		e, err := c.toEvent(entry)
		if err != nil {
			return nil, c.fail("decode response", fmt.Errorf("entry %d (%s): %w", i, entry.EarthquakeID, err))
		}
		events = append(events, e)
	}

	c.logger.Debug("kandilli fetch complete", "events", len(events))
	return events, nil
}

func (c *Client) toEvent(entry entry) (domain.Event, error) {
	e := domain.Event{
		ID:        strings.TrimSpace(entry.EarthquakeID),
		Longitude: entry.GeoJSON.Coordinates[0].Float64(),
		Latitude:  entry.GeoJSON.Coordinates[1].Float64(),
		Magnitude: entry.Mag.Float64(),
		Depth:     entry.Depth.Float64(),
		Source:    domain.SourceKandilli,
	}

	date, clock, ts, err := domain.ParseDateTime(entry.Date)
	if err != nil {
		date, clock, ts, err = domain.ParseDateTime(entry.DateTime)
	}
	if err != nil {
		return domain.Event{}, err
	}
	e.Date, e.Time, e.Timestamp = date, clock, ts

	var epicenter, closestCity string
	if lp := entry.LocationProperties; lp != nil {
		if lp.EpiCenter != nil {
			epicenter = lp.EpiCenter.Name
		}
		if lp.ClosestCity != nil {
			closestCity = lp.ClosestCity.Name
		}
	}

	e.Location = domain.FirstNonEmpty(domain.UnknownLocation, entry.Title, epicenter)
	if province := domain.FirstNonEmpty("", epicenter, closestCity); province != "" {
		e.Province = &province
	}
	if head, _, _ := strings.Cut(entry.Title, "-"); head != "" {
		e.District = domain.OptionalText(head)
	}

	return domain.ScoreAnomaly(e), nil
}

func (c *Client) fail(op string, err error) *domain.ProviderError {
	return &domain.ProviderError{
		Provider: domain.SourceKandilli,
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

func encodeQuery(p domain.FetchParams) url.Values {
	q := url.Values{}
	if p.Start != nil {
		q.Set("date_starts", p.Start.In(domain.ReportingZone).Format(queryLayout))
	}
	if p.End != nil {
		q.Set("date_ends", p.End.In(domain.ReportingZone).Format(queryLayout))
	}
	if p.MinMagnitude != nil {
		q.Set("min_mag", strconv.FormatFloat(*p.MinMagnitude, 'f', -1, 64))
	}
	if p.MaxMagnitude != nil {
		q.Set("max_mag", strconv.FormatFloat(*p.MaxMagnitude, 'f', -1, 64))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

// Kandilli API response types.

type response struct {
	Status *bool   `json:"status"`
	Desc   string  `json:"desc"`
	Result []entry `json:"result"`
}

type entry struct {
	EarthquakeID       string              `json:"earthquake_id"`
	Title              string              `json:"title"`
	Date               string              `json:"date"`
	DateTime           string              `json:"date_time"`
	Mag                domain.Float        `json:"mag"`
	Depth              domain.Float        `json:"depth"`
	GeoJSON            geoJSON             `json:"geojson"`
	LocationProperties *locationProperties `json:"location_properties"`
}

type geoJSON struct {
	Coordinates []domain.Float `json:"coordinates"` // [lon, lat]
}

type locationProperties struct {
	EpiCenter   *place `json:"epiCenter"`
	ClosestCity *place `json:"closestCity"`
}

type place struct {
	Name string `json:"name"`
}
