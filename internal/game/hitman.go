package game

import "math/rand"

// CreateHits builds one hit per user: each user becomes the target of
// exactly one hit, paired with a weapon and a location drawn at random
// from the given pools without replacement.
func CreateHits(users, weapons, locations []string) []Hit {
	ws := append([]string(nil), weapons...)
	ls := append([]string(nil), locations...)
	hits := make([]Hit, 0, len(users))
	for _, u := range users {
		var w, l string
		if len(ws) > 0 {
			i := rand.Intn(len(ws))
			w = ws[i]
			ws = append(ws[:i], ws[i+1:]...)
		}
		if len(ls) > 0 {
			i := rand.Intn(len(ls))
			l = ls[i]
			ls = append(ls[:i], ls[i+1:]...)
		}
		hits = append(hits, Hit{Target: u, Weapon: w, Location: l})
	}
	return hits
}

// Assign produces a random bijection actor→hit such that no actor is
// assigned the hit targeting itself (a random derangement search with one
// forbidden cell per row).
//
// ok is false when no valid assignment exists: mismatched input sizes, or
// the degenerate N=1 case with a self-targeted hit. N=0 succeeds with an
// empty assignment. On failure no partial assignment is returned.
func Assign(actors []string, hits []Hit) (map[string]Hit, bool) {
	if len(actors) != len(hits) {
		return nil, false
	}
	assigned := make(map[string]Hit, len(actors))
	if len(actors) == 0 {
		return assigned, true
	}
	// Work on copies; the backtracking mutates slice order in place.
	as := append([]string(nil), actors...)
	hs := append([]Hit(nil), hits...)
	if !assign(as, hs, assigned) {
		return nil, false
	}
	return assigned, true
}

// assign places actors[0] on a uniformly drawn non-self hit and recurses on
// the remainder. Failure surfaces only from a branch where every remaining
// hit targets the current actor; the caller then retries a different draw.
// A hit whose recursive continuation failed stays eligible for redraw —
// only that continuation was invalid, not the hit choice itself.
func assign(actors []string, hits []Hit, assigned map[string]Hit) bool {
	if len(actors) == 0 {
		return true
	}
	a := actors[0]
	for {
		if onlySelfTargets(hits, a) {
			return false
		}
		i := rand.Intn(len(hits))
		h := hits[i]
		if h.Target == a {
			continue
		}
		// Tentatively remove h by swapping it to the tail and recursing
		// on the shortened slice.
		last := len(hits) - 1
		hits[i], hits[last] = hits[last], hits[i]
		if assign(actors[1:], hits[:last], assigned) {
			assigned[a] = h
			return true
		}
		hits[i], hits[last] = hits[last], hits[i]
	}
}

// onlySelfTargets reports whether every remaining hit targets a. For valid
// input (targets form a permutation of the actors) this is exactly the
// single-hit base case; it also keeps malformed input from spinning.
func onlySelfTargets(hits []Hit, a string) bool {
	for i := range hits {
		if hits[i].Target != a {
			return false
		}
	}
	return true
}

// CreateGame pairs users with random weapon/location hits and assigns them
// so that nobody is ordered to eliminate themselves.
func CreateGame(users, weapons, locations []string) (map[string]Hit, bool) {
	hits := CreateHits(users, weapons, locations)
	return Assign(users, hits)
}
