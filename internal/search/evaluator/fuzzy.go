package evaluator

// withinEditDistance reports whether the Damerau-Levenshtein distance
// between a and b is at most max. Uses the optimal-string-alignment variant
// (adjacent transpositions count as one edit) with a per-row early exit.
func withinEditDistance(a, b string, max int) bool {
	if abs(len(a)-len(b)) > max {
		return false
	}
	if a == b {
		return true
	}
	ra, rb := []rune(a), []rune(b)
	prev2 := make([]int, len(rb)+1)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d := min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				if t := prev2[j-2] + 1; t < d {
					d = t // transposition
				}
			}
			curr[j] = d
			if d < rowMin {
				rowMin = d
			}
		}
		if rowMin > max {
			return false
		}
		prev2, prev, curr = prev, curr, prev2
	}
	return prev[len(rb)] <= max
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
