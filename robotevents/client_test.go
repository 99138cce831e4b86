package robotevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	mjhttp "matchjumper/http"
	"matchjumper/internal/retry"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log, _ := test.NewNullLogger()
	cfg := mjhttp.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.Retry = retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
	cfg.RateLimiter = mjhttp.RateLimiterConfig{}
	hc := mjhttp.New(cfg, log)
	t.Cleanup(func() { hc.Close() })

	return New(Options{BaseURL: srv.URL + "/api/v2/", Token: "secret", HTTP: hc, Log: log})
}

func writePage(t *testing.T, w http.ResponseWriter, r *http.Request, pages [][]any) {
	t.Helper()
	p, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if p < 1 {
		p = 1
	}
	var data []any
	if p <= len(pages) {
		data = pages[p-1]
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"meta": map[string]any{"current_page": p, "last_page": len(pages)},
		"data": data,
	})
}

func match(id int, name, started string, teamIDs ...int) map[string]any {
	var teams []any
	for _, tid := range teamIDs {
		teams = append(teams, map[string]any{"team": map[string]any{"id": tid, "name": strconv.Itoa(tid)}})
	}
	m := map[string]any{
		"id":        id,
		"name":      name,
		"division":  map[string]any{"id": 1, "name": "Science"},
		"alliances": []any{map[string]any{"color": "red", "teams": teams}},
	}
	if started != "" {
		m["started"] = started
	}
	return m
}

func TestExtractSKU(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://www.robotevents.com/robot-competitions/vex-robotics-competition/RE-VRC-23-1234.html", "RE-VRC-23-1234"},
		{"re-v5rc-24-56789", "RE-V5RC-24-56789"},
		{"event RE-VIQRC-24-0001 today", "RE-VIQRC-24-0001"},
		{"nothing here", ""},
	}
	for _, tt := range tests {
		if got := ExtractSKU(tt.in); got != tt.want {
			t.Errorf("ExtractSKU(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEventBySKU(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/events", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("sku[]") == "RE-VRC-23-1234" {
			writePage(t, w, r, [][]any{{map[string]any{
				"id": 51234, "sku": "RE-VRC-23-1234", "name": "Worlds",
				"start": "2024-04-25T00:00:00-05:00", "end": "2024-04-27T00:00:00-05:00",
				"divisions": []any{map[string]any{"id": 1, "name": "Science"}, map[string]any{"id": 2, "name": "Math"}},
			}}})
			return
		}
		writePage(t, w, r, [][]any{{}})
	})
	c := newTestClient(t, mux)

	ev, err := c.EventBySKU(context.Background(), "RE-VRC-23-1234")
	if err != nil {
		t.Fatalf("EventBySKU: %v", err)
	}
	if ev.ID != 51234 || len(ev.Divisions) != 2 {
		t.Errorf("unexpected event %+v", ev)
	}
	if tl := ev.Timeline(); tl.Days() != 3 || tl.Divisions[1].Name != "Math" {
		t.Errorf("timeline event = %+v", tl)
	}

	if _, err := c.EventBySKU(context.Background(), "RE-VRC-23-0000"); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("err = %v, want ErrEventNotFound", err)
	}
}

func TestTeamByNumber(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/teams", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("number[]") {
		case "1234A":
			writePage(t, w, r, [][]any{{
				map[string]any{"id": 1, "number": "1234AB"},
				map[string]any{"id": 2, "number": "1234A"},
			}})
		case "99Z":
			writePage(t, w, r, [][]any{{map[string]any{"id": 7, "number": "99ZZ"}}})
		default:
			writePage(t, w, r, [][]any{{}})
		}
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	team, err := c.TeamByNumber(ctx, "1234A")
	if err != nil || team.ID != 2 {
		t.Errorf("exact match: team=%+v err=%v", team, err)
	}
	team, err = c.TeamByNumber(ctx, "99Z")
	if err != nil || team.ID != 7 {
		t.Errorf("first result fallback: team=%+v err=%v", team, err)
	}
	if _, err := c.TeamByNumber(ctx, "nope"); !errors.Is(err, ErrTeamNotFound) {
		t.Errorf("err = %v, want ErrTeamNotFound", err)
	}
}

func TestMatchesForEventPaginatesAndSkipsFailingDivision(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/events/10/divisions/1/matches", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "250" {
			t.Errorf("per_page = %q", r.URL.Query().Get("per_page"))
		}
		writePage(t, w, r, [][]any{
			{match(3, "Q10", "2024-04-25T10:00:00Z", 1)},
			{match(1, "Q2", "2024-04-25T09:00:00Z", 1), match(2, "Q11", "", 1)},
		})
	})
	mux.HandleFunc("/api/v2/events/10/divisions/2/matches", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	ev := &Event{ID: 10, Divisions: []Division{{ID: 1}, {ID: 2}}}
	got, err := c.MatchesForEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("MatchesForEvent: %v", err)
	}
	var names []string
	for _, m := range got {
		names = append(names, m.Name)
	}
	if fmt.Sprint(names) != "[Q2 Q10 Q11]" {
		t.Errorf("order = %v", names)
	}
	if got[0].Started == nil || got[2].Started != nil {
		t.Errorf("timestamps not converted: %+v", got)
	}
	if got[0].Division != "Science" || got[0].AssignedStreamIndex != -1 {
		t.Errorf("conversion = %+v", got[0])
	}
}

func TestMatchesForEventDefaultDivision(t *testing.T) {
	var hit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/events/10/divisions/1/matches", func(w http.ResponseWriter, r *http.Request) {
		hit = true
		writePage(t, w, r, [][]any{{match(1, "Q1", "", 1)}})
	})
	c := newTestClient(t, mux)

	got, err := c.MatchesForEvent(context.Background(), &Event{ID: 10})
	if err != nil || len(got) != 1 || !hit {
		t.Errorf("got %v, err %v, hit %v", got, err, hit)
	}
}

func TestMatchesForEventAndTeam(t *testing.T) {
	t.Run("via divisions", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v2/events/10/divisions", func(w http.ResponseWriter, r *http.Request) {
			writePage(t, w, r, [][]any{{map[string]any{"id": 1, "name": "Science"}}})
		})
		mux.HandleFunc("/api/v2/events/10/divisions/1/matches", func(w http.ResponseWriter, r *http.Request) {
			writePage(t, w, r, [][]any{{
				match(1, "Q1", "2024-04-25T09:00:00Z", 5, 6),
				match(2, "Q2", "2024-04-25T09:10:00Z", 7, 8),
				match(3, "Q3", "2024-04-25T09:20:00Z", 8, 5),
			}})
		})
		c := newTestClient(t, mux)

		got, err := c.MatchesForEventAndTeam(context.Background(), 10, 5)
		if err != nil {
			t.Fatalf("MatchesForEventAndTeam: %v", err)
		}
		if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("team fallback", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v2/events/10/divisions", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		mux.HandleFunc("/api/v2/teams/5/matches", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("event[]") != "10" {
				t.Errorf("event[] = %q", r.URL.Query().Get("event[]"))
			}
			writePage(t, w, r, [][]any{{match(4, "R16 1-1", "2024-04-26T09:00:00Z", 5)}})
		})
		c := newTestClient(t, mux)

		got, err := c.MatchesForEventAndTeam(context.Background(), 10, 5)
		if err != nil {
			t.Fatalf("MatchesForEventAndTeam: %v", err)
		}
		if len(got) != 1 || got[0].ID != 4 {
			t.Errorf("got %+v", got)
		}
	})
}

func TestRankingsAndSkillsNotFoundAreEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/events/10/divisions/1/rankings", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/v2/events/10/skills", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/v2/events/11/skills", func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, r, [][]any{{map[string]any{"id": 1, "type": "driver", "score": 42, "team": map[string]any{"id": 5}}}})
	})
	mux.HandleFunc("/api/v2/events/11/divisions/3/rankings", func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, r, [][]any{{map[string]any{"rank": 1, "wins": 9, "team": map[string]any{"id": 5}}}})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	if rs, err := c.RankingsForEvent(ctx, 10, nil); err != nil || len(rs) != 0 {
		t.Errorf("rankings = %v, err = %v", rs, err)
	}
	if sk, err := c.SkillsForEvent(ctx, 10); err != nil || len(sk) != 0 {
		t.Errorf("skills = %v, err = %v", sk, err)
	}

	sk, err := c.SkillsForEvent(ctx, 11)
	if err != nil || len(sk) != 1 || sk[0].Score != 42 {
		t.Errorf("skills = %+v, err = %v", sk, err)
	}
	rs, err := c.RankingsForEvent(ctx, 11, []Division{{ID: 3}})
	if err != nil || len(rs) != 1 || rs[0].Wins != 9 {
		t.Errorf("rankings = %+v, err = %v", rs, err)
	}
}

func TestTeamsForEvent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/events/10/teams", func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, r, [][]any{
			{map[string]any{"id": 1, "number": "1A"}},
			{map[string]any{"id": 2, "number": "2B"}},
		})
	})
	mux.HandleFunc("/api/v2/events/12/teams", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newTestClient(t, mux)

	teams, err := c.TeamsForEvent(context.Background(), 10)
	if err != nil || len(teams) != 2 || teams[1].Number != "2B" {
		t.Errorf("teams = %+v, err = %v", teams, err)
	}
	if _, err := c.TeamsForEvent(context.Background(), 12); !errors.Is(err, mjhttp.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSetTokenChangesHeader(t *testing.T) {
	var auth string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/events/10/skills", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writePage(t, w, r, [][]any{{}})
	})
	c := newTestClient(t, mux)
	c.SetToken("override")

	if _, err := c.SkillsForEvent(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer override" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestMatchHasTeam(t *testing.T) {
	raw, _ := json.Marshal(match(1, "Q1", "", 5, 6)["alliances"])
	m := Match{Alliances: raw}
	if !m.HasTeam(6) || m.HasTeam(9) {
		t.Error("HasTeam mismatch")
	}
	if (Match{Alliances: json.RawMessage(`not json`)}).HasTeam(6) {
		t.Error("malformed alliances should not match")
	}
}
