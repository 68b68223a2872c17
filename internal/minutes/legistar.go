package minutes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/a2council/a2councilbot/internal/logging"
)

const (
	defaultBaseURL = "https://webapi.legistar.com/v1/a2gov"
	defaultTimeout = 30 * time.Second
)

var legislationLinkRe = regexp.MustCompile(`LegislationDetail\.aspx`)

// LegistarSource polls the Legistar web API for a single live meeting.
type LegistarSource struct {
	eventID    string
	baseURL    string
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
	logger     logging.Logger
}

// NewLegistarSource creates a live source for the given Legistar event ID.
func NewLegistarSource(eventID, baseURL string, logger logging.Logger) *LegistarSource {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(500*time.Millisecond, 5*time.Second).
		WithMaxRetries(2).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && (resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
		}).
		Build()
	return &LegistarSource{
		eventID: eventID,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		executor: failsafe.With(retry),
		logger:   logger,
	}
}

// Now returns wall-clock time; the live meeting runs in real time.
func (s *LegistarSource) Now() time.Time {
	return time.Now().UTC()
}

// Wait blocks the polling loop for d.
func (s *LegistarSource) Wait(d time.Duration) {
	time.Sleep(d)
}

// GetMinutes assembles a full snapshot: the event record, its items in
// minutes order, per-item votes and roll calls, and scraped detail links.
// Any request or decode failure is reported as a TransientError.
func (s *LegistarSource) GetMinutes(ctx context.Context) (*Event, error) {
	s.logger.Info("Starting new polling run")

	var event Event
	if err := s.getJSON(ctx, fmt.Sprintf("%s/events/%s", s.baseURL, s.eventID), &event); err != nil {
		return nil, &TransientError{Err: err}
	}

	// The API's matter IDs and GUIDs have no relationship to the query params
	// in the public web UI, so detail URLs can only be recovered by scraping
	// the event page and matching links by public file number.
	matterFileToURL := s.scrapeMatterLinks(ctx, event.SiteURL)

	var items []EventItem
	if err := s.getJSON(ctx, fmt.Sprintf("%s/events/%s/eventitems?MinutesNote=1&AgendaNote=1", s.baseURL, s.eventID), &items); err != nil {
		return nil, &TransientError{Err: err}
	}
	SortByMinutesSequence(items)

	for i := range items {
		item := &items[i]
		if item.MatterFile != nil {
			if u, ok := matterFileToURL[*item.MatterFile]; ok {
				item.SiteURL = &u
			}
		}

		if err := s.getJSON(ctx, fmt.Sprintf("%s/eventitems/%d/votes", s.baseURL, item.ID), &item.Votes); err != nil {
			return nil, &TransientError{Err: err}
		}
		if item.HasRollCall() {
			if err := s.getJSON(ctx, fmt.Sprintf("%s/eventitems/%d/RollCalls", s.baseURL, item.ID), &item.RollCalls); err != nil {
				return nil, &TransientError{Err: err}
			}
		} else {
			item.RollCalls = []RollCall{}
		}
	}
	event.EventItems = items

	s.logger.Info("Polling run complete")
	return &event, nil
}

// scrapeMatterLinks fetches the event's public page and maps each matter's
// file number to its legislation detail URL. Scraping HTML is fragile, so
// failures are tolerated and yield an empty map.
func (s *LegistarSource) scrapeMatterLinks(ctx context.Context, eventURL string) map[string]string {
	links := map[string]string{}
	if eventURL == "" {
		return links
	}

	parsed, err := url.Parse(eventURL)
	if err != nil {
		s.logger.WithError(err).Warn("Bad event page URL")
		return links
	}

	body, err := s.get(ctx, eventURL)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to fetch event page HTML")
		return links
	}

	scraped, err := extractLegislationLinks(body, parsed.Host)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to parse event page HTML")
		return links
	}
	return scraped
}

func (s *LegistarSource) get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := s.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		return s.httpClient.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return body, nil
}

func (s *LegistarSource) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	body, err := s.get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", rawURL, err)
	}
	return nil
}
