// Package types contains common types used across the application
package types

// Entry represents a leaderboard row.
type Entry struct {
	Rank   int    `json:"rank"`
	URN    string `json:"urn"`
	Name   string `json:"name,omitempty"`
	Branch string `json:"branch,omitempty"`
	Year   int    `json:"year,omitempty"`
	Score  int    `json:"score"`
}

// Standing is a student's stored score plus the data needed to display it.
type Standing struct {
	URN    string `json:"urn"`
	Name   string `json:"name,omitempty"`
	Branch string `json:"branch,omitempty"`
	Year   int    `json:"year,omitempty"`
	Score  int    `json:"score"`
}

// Less reports whether a ranks ahead of b: higher score first, then URN
// ascending so ties have a stable order.
func Less(a, b Standing) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.URN < b.URN
}

// EntryAt builds the leaderboard row for s at rank.
func EntryAt(s Standing, rank int) Entry {
	return Entry{Rank: rank, URN: s.URN, Name: s.Name, Branch: s.Branch, Year: s.Year, Score: s.Score}
}
