package robotevents

import (
	"encoding/json"
	"time"

	"matchjumper/timeline"
)

// Ref is the {id, name} reference the API embeds in other resources.
type Ref struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// Location is an event or team location.
type Location struct {
	Venue   string `json:"venue,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

// Event is an event as returned by /events.
type Event struct {
	ID          int        `json:"id"`
	SKU         string     `json:"sku"`
	Name        string     `json:"name"`
	Start       string     `json:"start"`
	End         string     `json:"end"`
	Season      Ref        `json:"season"`
	Program     Ref        `json:"program"`
	Location    Location   `json:"location"`
	Divisions   []Division `json:"divisions"`
	Level       string     `json:"level,omitempty"`
	Webcast     string     `json:"webcast,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Division is an event division.
type Division struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order,omitempty"`
}

// Timeline converts the event for the assignment engine.
func (e Event) Timeline() timeline.Event {
	out := timeline.Event{
		ID:          e.ID,
		SKU:         e.SKU,
		Name:        e.Name,
		Start:       e.Start,
		End:         e.End,
		Webcast:     e.Webcast,
		Description: e.Description,
	}
	for _, d := range e.Divisions {
		out.Divisions = append(out.Divisions, timeline.Division{ID: d.ID, Name: d.Name})
	}
	return out
}

// Team is a registered team.
type Team struct {
	ID           int      `json:"id"`
	Number       string   `json:"number"`
	TeamName     string   `json:"team_name"`
	RobotName    string   `json:"robot_name,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Location     Location `json:"location"`
	Grade        string   `json:"grade,omitempty"`
	Program      Ref      `json:"program"`
}

// Alliance is one side of a match.
type Alliance struct {
	Color string         `json:"color"`
	Score int            `json:"score"`
	Teams []AllianceTeam `json:"teams"`
}

// AllianceTeam is a team seat on an alliance.
type AllianceTeam struct {
	Team    Ref  `json:"team"`
	Sitting bool `json:"sitting"`
}

// Match is a match as returned by the division and team match endpoints.
type Match struct {
	ID        int             `json:"id"`
	Event     Ref             `json:"event"`
	Division  Ref             `json:"division"`
	Round     int             `json:"round"`
	Instance  int             `json:"instance"`
	MatchNum  int             `json:"matchnum"`
	Scheduled string          `json:"scheduled,omitempty"`
	Started   string          `json:"started,omitempty"`
	Field     string          `json:"field,omitempty"`
	Scored    bool            `json:"scored"`
	Name      string          `json:"name"`
	Alliances json.RawMessage `json:"alliances,omitempty"`
}

// HasTeam reports whether teamID plays in the match.
func (m Match) HasTeam(teamID int) bool {
	if len(m.Alliances) == 0 {
		return false
	}
	var alliances []Alliance
	if err := json.Unmarshal(m.Alliances, &alliances); err != nil {
		return false
	}
	for _, a := range alliances {
		for _, t := range a.Teams {
			if t.Team.ID == teamID {
				return true
			}
		}
	}
	return false
}

// Timeline converts the match for the assignment engine. Unparsable
// timestamps are treated as absent.
func (m Match) Timeline() timeline.Match {
	return timeline.Match{
		ID:                  m.ID,
		Name:                m.Name,
		Division:            m.Division.Name,
		Scheduled:           parseTime(m.Scheduled),
		Started:             parseTime(m.Started),
		Alliances:           m.Alliances,
		AssignedStreamIndex: timeline.Unassigned,
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// Ranking is a division ranking row.
type Ranking struct {
	ID            int     `json:"id"`
	Event         Ref     `json:"event"`
	Division      Ref     `json:"division"`
	Rank          int     `json:"rank"`
	Team          Ref     `json:"team"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	Ties          int     `json:"ties"`
	WP            int     `json:"wp"`
	AP            int     `json:"ap"`
	SP            int     `json:"sp"`
	HighScore     int     `json:"high_score"`
	AveragePoints float64 `json:"average_points"`
	TotalPoints   int     `json:"total_points"`
}

// Skill is a skills run result.
type Skill struct {
	ID       int    `json:"id"`
	Event    Ref    `json:"event"`
	Team     Ref    `json:"team"`
	Type     string `json:"type"`
	Rank     int    `json:"rank"`
	Score    int    `json:"score"`
	Attempts int    `json:"attempts"`
}

type meta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

type page[T any] struct {
	Meta meta `json:"meta"`
	Data []T  `json:"data"`
}
