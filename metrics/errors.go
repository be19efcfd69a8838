package metrics

import "fmt"

// ShapeError reports a batch/time disagreement between a log-probability
// tensor and its targets. Shapes are never silently broadcast.
type ShapeError struct {
	Op             string
	WantB, WantT   int
	GotB, GotT     int
	RaggedSequence int // index of the offending row, -1 if the batch sizes differ
}

func (e *ShapeError) Error() string {
	if e.RaggedSequence >= 0 {
		return fmt.Sprintf("metrics: %s: targets[%d] has %d timesteps, logp has %d",
			e.Op, e.RaggedSequence, e.GotT, e.WantT)
	}
	return fmt.Sprintf("metrics: %s: targets batch %d does not match logp batch %d",
		e.Op, e.GotB, e.WantB)
}

// IndexError reports a target id outside [0, vocab) that is not the padding
// sentinel. This is a caller contract violation and is not recovered.
type IndexError struct {
	Op          string
	Batch, Time int
	ID, Vocab   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("metrics: %s: target id %d at (%d, %d) outside vocab [0, %d)",
		e.Op, e.ID, e.Batch, e.Time, e.Vocab)
}
