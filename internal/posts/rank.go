package posts

import "math"

// Weights scales each signal's contribution to the rank score.
type Weights struct {
	View           float64
	Attempt        float64
	Comment        float64
	ExternalUpvote float64
	ExternalView   float64
	Recency        float64
}

// DefaultWeights returns the stock ranking weights.
func DefaultWeights() Weights {
	return Weights{
		View:           1.0,
		Attempt:        2.0,
		Comment:        3.0,
		ExternalUpvote: 1.5,
		ExternalView:   0.5,
		Recency:        10.0,
	}
}

// Signals are the raw inputs of the rank score for one post.
type Signals struct {
	ViewCount       int64
	AttemptCount    int64
	CommentCount    int64
	ExternalUpvotes int64
	ExternalViews   int64
	HoursOld        float64
}

// ComputeRankScore blends engagement and recency into one non-negative score.
// Counters below zero count as zero. A NaN or infinite age counts as one hour;
// a negative age (clock skew) counts as zero.
func ComputeRankScore(signals Signals, weights Weights) float64 {
	hoursOld := signals.HoursOld
	switch {
	case math.IsNaN(hoursOld) || math.IsInf(hoursOld, 0):
		hoursOld = 1
	case hoursOld < 0:
		hoursOld = 0
	}
	timeDecay := 1 / (1 + hoursOld/24)

	return logScale(signals.ViewCount)*weights.View +
		float64(clampZero(signals.AttemptCount))*weights.Attempt +
		float64(clampZero(signals.CommentCount))*weights.Comment +
		logScale(signals.ExternalUpvotes)*weights.ExternalUpvote +
		logScale(signals.ExternalViews)*weights.ExternalView +
		timeDecay*weights.Recency
}

func logScale(value int64) float64 {
	return math.Log(float64(clampZero(value)) + 1)
}

func clampZero(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}
