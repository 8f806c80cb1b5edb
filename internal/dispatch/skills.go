package dispatch

const (
	fullMatchBonus    = 30
	partialMatchBonus = 15
)

// MatchScore scores an operator's skill set against a chat's required
// specializations: full coverage earns the full bonus, any overlap the
// partial bonus, and an empty requirement set earns nothing. Quality and
// preference bonuses are layered on by the assignment engine, not here.
func MatchScore(required, operatorSkills []string) int {
	if len(required) == 0 {
		return 0
	}

	have := make(map[string]struct{}, len(operatorSkills))
	for _, s := range operatorSkills {
		have[s] = struct{}{}
	}

	matched := 0
	for _, s := range required {
		if _, ok := have[s]; ok {
			matched++
		}
	}

	switch {
	case matched == len(required):
		return fullMatchBonus
	case matched > 0:
		return partialMatchBonus
	default:
		return 0
	}
}
