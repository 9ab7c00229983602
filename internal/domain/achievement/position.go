package achievement

import (
	"fmt"
	"strings"
)

// Position is the canonical outcome of one participation entry.
type Position int

// Position labels. The zero value is PositionInvalid so that anything not
// explicitly recognised scores nothing.
const (
	PositionInvalid Position = iota
	PositionPending
	PositionParticipated
	PositionThird
	PositionSecond
	PositionFirst
)

var positionNames = [...]string{
	PositionInvalid:      "invalid",
	PositionPending:      "pending",
	PositionParticipated: "participated",
	PositionThird:        "third",
	PositionSecond:       "second",
	PositionFirst:        "first",
}

func (p Position) String() string {
	if p < 0 || int(p) >= len(positionNames) {
		return "invalid"
	}
	return positionNames[p]
}

// Scores reports whether the label can earn points from the multiplier table.
func (p Position) Scores() bool {
	return p != PositionPending && p != PositionInvalid && p.valid()
}

func (p Position) valid() bool {
	return p >= PositionInvalid && p <= PositionFirst
}

// MarshalText implements encoding.TextMarshaler.
func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for canonical names only.
func (p *Position) UnmarshalText(b []byte) error {
	for i, name := range positionNames {
		if name == string(b) {
			*p = Position(i)
			return nil
		}
	}
	return fmt.Errorf("unknown position label %q", string(b))
}

// NormalizePosition maps free-text position input to a label. The rules are
// ordered; digit containment is checked before the exact "pending" match.
func NormalizePosition(raw string) Position {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "participation" || s == "participated":
		return PositionParticipated
	case strings.Contains(s, "1"):
		return PositionFirst
	case strings.Contains(s, "2"):
		return PositionSecond
	case strings.Contains(s, "3"):
		return PositionThird
	case s == "pending":
		return PositionPending
	default:
		return PositionInvalid
	}
}
