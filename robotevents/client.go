// Package robotevents is a client for the RobotEvents v2 API: events, teams,
// divisions, matches, rankings and skills.
package robotevents

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	mjhttp "matchjumper/http"
	"matchjumper/timeline"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://www.robotevents.com/api/v2"

const perPage = 250

var (
	ErrEventNotFound = errors.New("robotevents: event not found")
	ErrTeamNotFound  = errors.New("robotevents: team not found")
)

var skuRegex = regexp.MustCompile(`(?i)\bRE-[A-Z0-9]+-\d{2}-\d{3,6}\b`)

// ExtractSKU finds an event SKU such as RE-VRC-23-1234 in a pasted URL or text.
func ExtractSKU(text string) string {
	return strings.ToUpper(skuRegex.FindString(text))
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	HTTP    *mjhttp.Client
	Log     logrus.FieldLogger
}

// Client talks to the RobotEvents API with a bearer token.
type Client struct {
	http    *mjhttp.Client
	baseURL string
	log     logrus.FieldLogger

	mu    sync.RWMutex
	token string
}

// New creates a client. A nil HTTP client gets the default configuration.
func New(opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	hc := opts.HTTP
	if hc == nil {
		hc = mjhttp.New(nil, log)
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		http:    hc,
		baseURL: base,
		log:     log.WithField("component", "robotevents"),
		token:   opts.Token,
	}
}

// SetToken replaces the bearer token, e.g. after the user stores an override.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) headers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := map[string]string{"Accept": "application/json"}
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	return h
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	return c.http.GetJSON(ctx, c.endpoint(path, q), c.headers(), v)
}

// fetchAll walks every page of a paginated endpoint.
func fetchAll[T any](ctx context.Context, c *Client, path string, q url.Values) ([]T, error) {
	var all []T
	for p, last := 1, 1; p <= last; p++ {
		params := url.Values{}
		for k, v := range q {
			params[k] = v
		}
		params.Set("page", strconv.Itoa(p))
		params.Set("per_page", strconv.Itoa(perPage))

		var resp page[T]
		if err := c.getJSON(ctx, path, params, &resp); err != nil {
			return all, err
		}
		all = append(all, resp.Data...)
		last = resp.Meta.LastPage
	}
	return all, nil
}

// EventBySKU looks an event up by its SKU.
func (c *Client) EventBySKU(ctx context.Context, sku string) (*Event, error) {
	if sku == "" {
		return nil, ErrEventNotFound
	}
	var resp page[Event]
	if err := c.getJSON(ctx, "/events", url.Values{"sku[]": {sku}}, &resp); err != nil {
		return nil, fmt.Errorf("get event %s: %w", sku, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, sku)
	}
	ev := resp.Data[0]
	c.log.WithFields(logrus.Fields{"sku": sku, "event_id": ev.ID, "divisions": len(ev.Divisions)}).Debug("event loaded")
	return &ev, nil
}

// TeamByNumber returns the team whose number matches exactly, else the first
// result the API offers.
func (c *Client) TeamByNumber(ctx context.Context, number string) (*Team, error) {
	var resp page[Team]
	q := url.Values{"number[]": {number}, "myTeams": {"false"}}
	if err := c.getJSON(ctx, "/teams", q, &resp); err != nil {
		return nil, fmt.Errorf("get team %s: %w", number, err)
	}
	for _, t := range resp.Data {
		if strings.EqualFold(t.Number, number) {
			return &t, nil
		}
	}
	if len(resp.Data) > 0 {
		return &resp.Data[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, number)
}

// Divisions lists the divisions of an event.
func (c *Client) Divisions(ctx context.Context, eventID int) ([]Division, error) {
	var resp page[Division]
	if err := c.getJSON(ctx, fmt.Sprintf("/events/%d/divisions", eventID), nil, &resp); err != nil {
		return nil, fmt.Errorf("get divisions: %w", err)
	}
	return resp.Data, nil
}

func divisionsOrDefault(divs []Division) []Division {
	if len(divs) > 0 {
		return divs
	}
	return []Division{{ID: 1, Name: "Default Division"}}
}

// MatchesForEvent fetches every division's matches. Events without listed
// divisions are tried as division 1. A division that fails is logged and
// skipped; only context cancellation aborts.
func (c *Client) MatchesForEvent(ctx context.Context, ev *Event) ([]timeline.Match, error) {
	var raw []Match
	for _, d := range divisionsOrDefault(ev.Divisions) {
		ms, err := fetchAll[Match](ctx, c, fmt.Sprintf("/events/%d/divisions/%d/matches", ev.ID, d.ID), nil)
		raw = append(raw, ms...)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.WithError(err).WithFields(logrus.Fields{"event_id": ev.ID, "division_id": d.ID}).Warn("failed to fetch division matches")
		}
	}
	return toTimeline(raw), nil
}

// MatchesForEventAndTeam fetches the matches a team plays at an event. The
// divisions endpoint is tried first; when it is unavailable the team's own
// match list, filtered to the event, is used.
func (c *Client) MatchesForEventAndTeam(ctx context.Context, eventID, teamID int) ([]timeline.Match, error) {
	raw, err := c.matchesViaDivisions(ctx, eventID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.WithError(err).WithField("event_id", eventID).Debug("divisions unavailable, falling back to team matches")
		raw, err = fetchAll[Match](ctx, c, fmt.Sprintf("/teams/%d/matches", teamID), url.Values{"event[]": {strconv.Itoa(eventID)}})
		if err != nil {
			return nil, fmt.Errorf("could not fetch matches: %w", err)
		}
	}

	filtered := raw[:0]
	for _, m := range raw {
		if m.HasTeam(teamID) {
			filtered = append(filtered, m)
		}
	}
	return toTimeline(filtered), nil
}

func (c *Client) matchesViaDivisions(ctx context.Context, eventID int) ([]Match, error) {
	divs, err := c.Divisions(ctx, eventID)
	if err != nil {
		return nil, err
	}
	var raw []Match
	for _, d := range divs {
		ms, err := fetchAll[Match](ctx, c, fmt.Sprintf("/events/%d/divisions/%d/matches", eventID, d.ID), nil)
		if err != nil {
			return nil, err
		}
		raw = append(raw, ms...)
	}
	return raw, nil
}

func toTimeline(raw []Match) []timeline.Match {
	out := make([]timeline.Match, 0, len(raw))
	for _, m := range raw {
		out = append(out, m.Timeline())
	}
	timeline.SortMatches(out)
	return out
}

// TeamsForEvent lists the teams registered for an event.
func (c *Client) TeamsForEvent(ctx context.Context, eventID int) ([]Team, error) {
	teams, err := fetchAll[Team](ctx, c, fmt.Sprintf("/events/%d/teams", eventID), nil)
	if err != nil {
		return nil, fmt.Errorf("get teams: %w", err)
	}
	return teams, nil
}

// RankingsForEvent returns the rankings of every division (division 1 when
// none are given). Unpublished rankings (404) read as empty.
func (c *Client) RankingsForEvent(ctx context.Context, eventID int, divisions []Division) ([]Ranking, error) {
	var all []Ranking
	for _, d := range divisionsOrDefault(divisions) {
		rs, err := fetchAll[Ranking](ctx, c, fmt.Sprintf("/events/%d/divisions/%d/rankings", eventID, d.ID), nil)
		if errors.Is(err, mjhttp.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get rankings: %w", err)
		}
		all = append(all, rs...)
	}
	return all, nil
}

// SkillsForEvent returns skills results. A 404 reads as empty.
func (c *Client) SkillsForEvent(ctx context.Context, eventID int) ([]Skill, error) {
	skills, err := fetchAll[Skill](ctx, c, fmt.Sprintf("/events/%d/skills", eventID), nil)
	if errors.Is(err, mjhttp.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get skills: %w", err)
	}
	return skills, nil
}
