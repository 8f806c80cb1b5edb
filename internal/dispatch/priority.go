package dispatch

import "time"

// Priority is the queue entry's urgency band derived from its score.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// User tier names as stored on chat records.
const (
	TierFree     = "free"
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

const (
	vipBonus = 50

	// Priority band boundaries.
	urgentThreshold = 150
	highThreshold   = 100
	normalThreshold = 50
)

var tierBaseScores = map[string]int{
	TierFree:     20,
	TierBronze:   40,
	TierSilver:   60,
	TierGold:     80,
	TierPlatinum: 100,
}

// Score computes a queue priority score from the user's tier, how long the
// chat has been waiting, and the user's lifetime spend. Wait time earns one
// point per full minute, spend one point per 100 minor units, and platinum
// users get a flat VIP bonus on top of their base.
//
// Negative wait or spend contributes zero rather than subtracting: external
// data feeding these inputs has produced clock skew and refund-driven
// negatives before, and a bad feed should not sink a chat below its tier base.
func Score(tier string, wait time.Duration, lifetimeValue int64) int {
	base, ok := tierBaseScores[tier]
	if !ok {
		base = tierBaseScores[TierFree]
	}
	score := base

	if minutes := int(wait.Minutes()); minutes > 0 {
		score += minutes
	}
	if lifetimeValue > 0 {
		score += int(lifetimeValue / 100)
	}
	if tier == TierPlatinum {
		score += vipBonus
	}
	return score
}

// PriorityLevel maps a score onto its urgency band.
func PriorityLevel(score int) Priority {
	switch {
	case score >= urgentThreshold:
		return PriorityUrgent
	case score >= highThreshold:
		return PriorityHigh
	case score >= normalThreshold:
		return PriorityNormal
	default:
		return PriorityLow
	}
}
