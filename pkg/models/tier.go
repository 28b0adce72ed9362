package models

// ComplexityTier buckets a 1-10 complexity score.
type ComplexityTier string

const (
	// TierSimple covers scores 1-3.
	TierSimple ComplexityTier = "simple"
	// TierModerate covers scores 4-6.
	TierModerate ComplexityTier = "moderate"
	// TierComplex covers scores 7-10.
	TierComplex ComplexityTier = "complex"
)

// Valid returns true if the tier is a known value.
func (t ComplexityTier) Valid() bool {
	switch t {
	case TierSimple, TierModerate, TierComplex:
		return true
	default:
		return false
	}
}

// TierForScore maps a complexity score onto its tier.
func TierForScore(score int) ComplexityTier {
	switch {
	case score >= 7:
		return TierComplex
	case score >= 4:
		return TierModerate
	default:
		return TierSimple
	}
}

// PriorityLevel is the remote agent's priority enum.
type PriorityLevel string

const (
	PriorityUrgent PriorityLevel = "urgent"
	PriorityHigh   PriorityLevel = "high"
	PriorityMedium PriorityLevel = "medium"
	PriorityLow    PriorityLevel = "low"
)

// PriorityForScore maps a 1-10 priority score onto the remote priority enum.
func PriorityForScore(score int) PriorityLevel {
	switch {
	case score >= 9:
		return PriorityUrgent
	case score >= 7:
		return PriorityHigh
	case score >= 4:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// TopPriority is the score at and above which a request counts as top tier.
const TopPriority = 9
