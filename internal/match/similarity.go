package match

// Similarity computes the Jaccard similarity of the token sets of a and b,
// in [0, 1]. Two empty strings score 1; one empty string scores 0.
func Similarity(a, b string) float64 {
	ta := Tokens(a)
	tb := Tokens(b)

	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}
