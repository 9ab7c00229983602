package roster

import (
	"fmt"
	"math/rand"

	"github.com/okian/trophy/internal/domain/model"
)

// Sport names spread across every level the classifier knows, plus the
// bonus sports.
var sports = []string{
	"International Shooting",
	"National Athletics",
	"Inter University Football",
	"Inter-University Hockey",
	"State Chess",
	"PTU Basketball",
	"Inter College Volleyball",
	"University Kabaddi",
	"Gym",
	"Swimming",
	"Institute Cricket",
	"Badminton",
	"Table Tennis",
}

// Raw position texts as sports offices type them, including the odd ones
// that score nothing.
var positions = []string{
	"1st", "2nd", "3rd", "1", "2nd position", "III",
	"participated", "Participation", "participated", "participated",
	"pending", "", "Winner",
}

var (
	branches = []string{"CSE", "ECE", "ME", "CE", "EE", "IT"}
	names    = []string{"Asha", "Ravi", "Simran", "Arjun", "Meera", "Kabir", "Navneet", "Ishaan", "Tara", "Dev"}
)

const (
	maxEntries  = 5
	captainRate = 0.15
	shortRate   = 0.05
)

// Generate builds n synthetic student records. The same seed always yields
// the same roster. URNs are U000001, U000002, ...
func Generate(n int, seed int64) []model.StudentRecord {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // synthetic data
	out := make([]model.StudentRecord, n)
	for i := range out {
		entries := rng.Intn(maxEntries + 1)
		rec := model.StudentRecord{
			URN:       fmt.Sprintf("U%06d", i+1),
			Name:      names[rng.Intn(len(names))],
			Branch:    branches[rng.Intn(len(branches))],
			Year:      1 + rng.Intn(4),
			IsCaptain: rng.Float64() < captainRate,
			Sports:    make([]string, entries),
			Positions: make([]string, entries),
		}
		for j := 0; j < entries; j++ {
			rec.Sports[j] = sports[rng.Intn(len(sports))]
			rec.Positions[j] = positions[rng.Intn(len(positions))]
		}
		// Occasionally drop the last position so the pairing edge case is
		// exercised.
		if entries > 0 && rng.Float64() < shortRate {
			rec.Positions = rec.Positions[:entries-1]
		}
		out[i] = rec
	}
	return out
}
