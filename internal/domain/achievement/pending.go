package achievement

// HasAnyValidPosition reports whether any of a student's entries, across all
// sports, carries a scoring position.
//
// The result never changes a total: pending entries score 0 either way. It
// is reported on Result.PendingResolved so reviewers can tell a student who
// is only waiting on results from one whose record has nothing usable.
func HasAnyValidPosition(entries []Entry) bool {
	for _, e := range entries {
		if e.Position.Scores() {
			return true
		}
	}
	return false
}
