package achievement

import "strings"

// Fixed bonuses.
const (
	CaptainBonus = 15
	SportBonus   = 30
)

// multipliers holds points per (level, position). Pending and Invalid
// columns are zero.
var multipliers = [...][PositionFirst + 1]int{
	LevelInternational: {PositionFirst: 60, PositionSecond: 58, PositionThird: 56, PositionParticipated: 55},
	LevelNational:      {PositionFirst: 55, PositionSecond: 53, PositionThird: 51, PositionParticipated: 50},
	LevelState:         {PositionFirst: 50, PositionSecond: 48, PositionThird: 46, PositionParticipated: 45},
	LevelInstitute:     {PositionFirst: 45, PositionSecond: 43, PositionThird: 41, PositionParticipated: 15},
}

// Points returns the table value for a level and position. Non-scoring
// positions and out-of-range values return 0.
func Points(level Level, position Position) int {
	if !position.Scores() || level < LevelInstitute || level > LevelInternational {
		return 0
	}
	return multipliers[level][position]
}

var bonusSports = []string{"gym", "swimming", "shooting"}

// IsBonusSport reports whether a sport name earns the one-time sport bonus.
func IsBonusSport(sport string) bool {
	name := strings.ToLower(sport)
	for _, s := range bonusSports {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}
