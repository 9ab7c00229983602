// Package model contains domain models passed between layers.
package model

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// StudentRecord is a student as supplied by the student directory.
// Sports and Positions are index-aligned: Sports[i] and Positions[i]
// describe the same participation entry.
type StudentRecord struct {
	URN       string   `json:"urn" yaml:"urn"`
	Name      string   `json:"name" yaml:"name"`
	Branch    string   `json:"branch" yaml:"branch"`
	Year      int      `json:"year" yaml:"year"`
	IsCaptain bool     `json:"is_captain" yaml:"is_captain"`
	Sports    []string `json:"sports" yaml:"sports"`
	Positions []string `json:"positions" yaml:"positions"`
}

// Participation is one sport entry paired with its raw position text.
// HasPosition is false when the positions slice was shorter than sports.
type Participation struct {
	Sport       string
	Position    string
	HasPosition bool
}

// Participations pairs Sports and Positions into one ordered slice. Entries
// past the end of Positions carry no position; positions without a sport
// are dropped.
func (r StudentRecord) Participations() []Participation {
	out := make([]Participation, len(r.Sports))
	for i, sport := range r.Sports {
		out[i].Sport = sport
		if i < len(r.Positions) {
			out[i].Position = r.Positions[i]
			out[i].HasPosition = true
		}
	}
	return out
}

// Fingerprint returns a stable hash of everything a ranking row is built
// from. Two submissions with the same fingerprint produce the same row.
func Fingerprint(r StudentRecord) string {
	d := xxhash.New()
	for _, s := range []string{r.URN, r.Name, r.Branch, strconv.Itoa(r.Year), strconv.FormatBool(r.IsCaptain)} {
		_, _ = d.WriteString(s)
		_, _ = d.WriteString("\x00")
	}
	for _, p := range r.Participations() {
		_, _ = d.WriteString(strings.TrimSpace(p.Sport))
		_, _ = d.WriteString("\x1f")
		if p.HasPosition {
			_, _ = d.WriteString(strings.TrimSpace(p.Position))
		} else {
			_, _ = d.WriteString("\x1e")
		}
		_, _ = d.WriteString("\x00")
	}
	return r.URN + ":" + strconv.FormatUint(d.Sum64(), 16)
}

// ScoreJob is the unit of work flowing through the scoring queue.
type ScoreJob struct {
	JobID  string
	Record StudentRecord
}
