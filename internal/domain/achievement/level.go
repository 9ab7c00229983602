package achievement

import (
	"fmt"
	"regexp"
	"strings"
)

// Level is the competition tier inferred from a sport or event name.
type Level int

// Levels in ascending order of prestige. LevelInstitute is the default.
const (
	LevelInstitute Level = iota
	LevelState
	LevelNational
	LevelInternational
)

var levelNames = [...]string{
	LevelInstitute:     "institute",
	LevelState:         "state",
	LevelNational:      "national",
	LevelInternational: "international",
}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "institute"
	}
	return levelNames[l]
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for canonical names only.
func (l *Level) UnmarshalText(b []byte) error {
	for i, name := range levelNames {
		if name == string(b) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", string(b))
}

// levelRule is one step of the classifier: the first rule whose match
// reports true decides the level.
type levelRule struct {
	level Level
	match func(name string) bool
}

var interUniversity = regexp.MustCompile(`inter\s*university`)

func containsAny(words ...string) func(string) bool {
	return func(name string) bool {
		for _, w := range words {
			if strings.Contains(name, w) {
				return true
			}
		}
		return false
	}
}

// levelRules is evaluated top to bottom against the lower-cased name.
var levelRules = []levelRule{
	{level: LevelInternational, match: containsAny("international")},
	{level: LevelNational, match: func(name string) bool {
		return strings.Contains(name, "national") || interUniversity.MatchString(name)
	}},
	{level: LevelState, match: containsAny("state", "inter college", "ptu", "university")},
}

// ClassifyLevel infers the competition level from a free-text sport name.
// Names matching no rule are Institute-level events.
func ClassifyLevel(sport string) Level {
	name := strings.ToLower(sport)
	for _, r := range levelRules {
		if r.match(name) {
			return r.level
		}
	}
	return LevelInstitute
}
