// Package similarity implements Ratcliff-Obershelp ("gestalt pattern
// matching") string similarity: the same algorithm Python's
// difflib.SequenceMatcher.ratio() computes, which
// automation_engine.py's find_similar_name relies on for fuzzy
// tool/action-name suggestions in validation error messages.
//
// No example repo or library in the pack implements this specific
// algorithm (the pack's xrash/smetrics-style dependencies cover
// Jaro-Winkler and Levenshtein, which score differently), so this is a
// deliberate, justified stdlib-only implementation — see DESIGN.md.
package similarity

import "strings"

// Ratio returns the Ratcliff-Obershelp similarity of a and b in [0, 1]:
// twice the number of matching characters (found via repeated
// longest-common-substring matching) divided by the combined length of
// both strings.
func Ratio(a, b string) float64 {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 && len(br) == 0 {
		return 1
	}
	matches := matchingCharacters(ar, br)
	return 2 * float64(matches) / float64(len(ar)+len(br))
}

// matchingCharacters sums the lengths of the matching blocks found by
// recursively taking the longest common contiguous run and then
// recursing on the runs to either side of it, exactly as
// SequenceMatcher.get_matching_blocks does.
func matchingCharacters(a, b []rune) int {
	b2j := indexRunes(b)

	var total int
	var recurse func(alo, ahi, blo, bhi int)
	recurse = func(alo, ahi, blo, bhi int) {
		i, j, size := longestMatch(a, b, b2j, alo, ahi, blo, bhi)
		if size == 0 {
			return
		}
		total += size
		if alo < i && blo < j {
			recurse(alo, i, blo, j)
		}
		if i+size < ahi && j+size < bhi {
			recurse(i+size, ahi, j+size, bhi)
		}
	}
	recurse(0, len(a), 0, len(b))
	return total
}

func indexRunes(b []rune) map[rune][]int {
	idx := make(map[rune][]int, len(b))
	for i, r := range b {
		idx[r] = append(idx[r], i)
	}
	return idx
}

// longestMatch finds the longest matching run of a[alo:ahi] within
// b[blo:bhi], preferring the earliest such run in a, then in b, matching
// SequenceMatcher.find_longest_match's tie-breaking.
func longestMatch(a, b []rune, b2j map[rune][]int, alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		newJ2len := map[int]int{}
		for _, j := range b2j[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newJ2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newJ2len
	}
	return besti, bestj, bestsize
}

// Best returns the name in available whose Ratio against name is highest
// and at least threshold, or ("", false) if none qualifies — mirroring
// find_similar_name's strict "> best_ratio" tie-break (first-seen wins a
// tie) and default 0.6 threshold.
func Best(name string, available []string, threshold float64) (string, bool) {
	lower := strings.ToLower(name)
	var bestMatch string
	var bestRatio float64
	found := false

	for _, candidate := range available {
		ratio := Ratio(lower, strings.ToLower(candidate))
		if ratio > bestRatio && ratio >= threshold {
			bestRatio = ratio
			bestMatch = candidate
			found = true
		}
	}
	return bestMatch, found
}
