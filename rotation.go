package main

// The rotation is a cyclic Latin square over the roster captured at game
// start: on turn t, the player at index p contributes to the chain owned by
// the player at index (p + t - 1) mod n. Across n turns every player touches
// every chain exactly once, and every chain receives exactly one entry per
// turn.

// assignedChain returns the roster index of the chain the player at index p
// works on during turn t (1-based), for a roster of size n.
func assignedChain(p, t, n int) int {
	return (p + t - 1) % n
}

// isWritingTurn reports whether turn t is a writing turn. Odd turns are
// written, even turns are drawn.
func isWritingTurn(t int) bool {
	return t%2 == 1
}

// lastEntryOfKind returns the most recent entry of the given kind, or nil.
// Chains can hold gaps when a player times out or leaves mid-game, so the
// task for the next contributor is built from the latest usable entry rather
// than by position.
func lastEntryOfKind(sequence []Entry, kind string) *Entry {
	for i := len(sequence) - 1; i >= 0; i-- {
		if sequence[i].Kind == kind {
			return &sequence[i]
		}
	}
	return nil
}
