// Package feedback turns logged transition usage into statistics and blends
// them with a graph edge's static weight.
package feedback

import (
	"math"
	"time"
)

const (
	// MaxRatings is how many of the most recent ratings are averaged.
	MaxRatings = 20
	// RecencyDecay is the weight multiplier per step back in time.
	RecencyDecay = 0.9
	// ConfidentUses is the usage count at which confidence reaches 1.
	ConfidentUses = 10
	// MaxInfluence caps the share of the final weight feedback can decide.
	MaxInfluence = 0.5
	// countBonus is the ranking credit per use in RankScore.
	countBonus = 0.1
)

// Stats is the derived view of one transition's event log. It is computed on
// read and never stored.
type Stats struct {
	PracticeCount    int        `json:"practiceCount"`
	PerformanceCount int        `json:"performanceCount"`
	AverageRating    float64    `json:"averageRating"`
	RatingCount      int        `json:"ratingCount"`
	LastUsed         *time.Time `json:"lastUsed,omitempty"`
	Confidence       float64    `json:"confidence"`
}

// TotalCount is the number of recorded plays across practice and performance.
func (s Stats) TotalCount() int {
	return s.PracticeCount + s.PerformanceCount
}

// NewStats fills in the derived fields from raw aggregates. ratingsNewestFirst
// may be longer than MaxRatings; only the newest MaxRatings are used.
func NewStats(practice, performance int, ratingsNewestFirst []int, lastUsed *time.Time) Stats {
	if len(ratingsNewestFirst) > MaxRatings {
		ratingsNewestFirst = ratingsNewestFirst[:MaxRatings]
	}
	return Stats{
		PracticeCount:    practice,
		PerformanceCount: performance,
		AverageRating:    RecencyWeightedAverage(ratingsNewestFirst),
		RatingCount:      len(ratingsNewestFirst),
		LastUsed:         lastUsed,
		Confidence:       Confidence(practice + performance),
	}
}

// Confidence grows linearly with use and saturates at ConfidentUses.
func Confidence(total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(1, float64(total)/ConfidentUses)
}

// RecencyWeightedAverage averages ratings where the i-th newest has weight
// RecencyDecay^i. An empty slice averages to 0.
func RecencyWeightedAverage(ratingsNewestFirst []int) float64 {
	if len(ratingsNewestFirst) == 0 {
		return 0
	}
	var sum, weights float64
	w := 1.0
	for _, r := range ratingsNewestFirst {
		sum += float64(r) * w
		weights += w
		w *= RecencyDecay
	}
	return sum / weights
}

// UserWeight maps an average rating in [-1, 1] onto [0, 1].
func UserWeight(averageRating float64) float64 {
	return (averageRating + 1) / 2
}

// AdjustedWeight blends a static edge weight with learned feedback. With no
// recorded use the base weight is returned unchanged.
func AdjustedWeight(base float64, s Stats) float64 {
	if s.TotalCount() == 0 {
		return base
	}
	influence := s.Confidence * MaxInfluence
	return base*(1-influence) + UserWeight(s.AverageRating)*influence
}

// RankScore orders transitions for "top transitions" listings.
func RankScore(s Stats) float64 {
	return s.AverageRating*s.Confidence + float64(s.TotalCount())*countBonus
}
