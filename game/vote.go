package game

// Ballot is one vote. Target 0 is an abstention.
type Ballot struct {
	Voter  int `json:"voter_id"`
	Target int `json:"target_id"`
}

// Tally applies plurality with tie veto: the single most voted target wins,
// a tie at the top (or no votes) yields ok == false.
func Tally(targets []int) (winner int, counts map[int]int, ok bool) {
	counts = make(map[int]int)
	for _, t := range targets {
		if t == 0 {
			continue
		}
		counts[t]++
	}

	best, tied := 0, false
	for target, n := range counts {
		switch {
		case n > best:
			best, winner, tied = n, target, false
		case n == best:
			tied = true
		}
	}
	if best == 0 || tied {
		return 0, counts, false
	}
	return winner, counts, true
}
