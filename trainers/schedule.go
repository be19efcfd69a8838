// Package trainers runs the optimization loop: scheduled per-module learning
// rates, per-step loss and metrics, checkpoint cadence, and the
// density-penalized variant of the objective.
package trainers

import "math"

// LRSchedule is linear warmup to peak over warmup steps, then cosine decay
// over decay steps (0 holds at peak).
func LRSchedule(step, warmup, decay int, peak float64) float64 {
	if step <= 0 {
		return 0
	}
	if warmup > 0 && step < warmup {
		return peak * float64(step) / float64(warmup)
	}
	if decay > 0 {
		x := float64(step-warmup) / float64(decay)
		if x > 1 {
			x = 1
		} else if x < 0 {
			x = 0
		}
		return peak * 0.5 * (1 + math.Cos(math.Pi*x))
	}
	return peak
}
