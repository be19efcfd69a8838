package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// align validates shapes and resolves the next-token alignment. With shift
// enabled, logp drops its last timestep and targets drop their first, so that
// logp position t is scored against targets[b][t+1]. The returned tEff is the
// number of aligned timesteps and tOff the target offset.
func align(op string, lp *LogProbs, targets [][]int, shift bool) (tEff, tOff int, err error) {
	b, t, _ := lp.Dims()
	if len(targets) != b {
		return 0, 0, &ShapeError{Op: op, WantB: b, WantT: t, GotB: len(targets), RaggedSequence: -1}
	}
	for i, seq := range targets {
		if len(seq) != t {
			return 0, 0, &ShapeError{Op: op, WantB: b, WantT: t, GotB: b, GotT: len(seq), RaggedSequence: i}
		}
	}
	if shift {
		return t - 1, 1, nil
	}
	return t, 0, nil
}

// checkID validates a non-padding target id against the vocabulary.
func checkID(op string, id, b, t, vocab int) error {
	if id < 0 || id >= vocab {
		return &IndexError{Op: op, Batch: b, Time: t, ID: id, Vocab: vocab}
	}
	return nil
}

// Loss is the standard cross-entropy loss for language modeling, in nats.
// Gathered negative log-probabilities of the target tokens are averaged over
// all non-padding positions globally (one flat mean across the batch, not a
// per-sequence mean of means). Padding positions contribute nothing to either
// the sum or the denominator. A batch with no non-padding positions returns 0.
func Loss(lp *LogProbs, targets [][]int, padID int, shift bool) (float64, error) {
	tEff, tOff, err := align("loss", lp, targets, shift)
	if err != nil {
		return 0, err
	}
	b, _, v := lp.Dims()

	vals := make([]float64, 0, b*tEff)
	for i := 0; i < b; i++ {
		for t := 0; t < tEff; t++ {
			id := targets[i][t+tOff]
			if id == padID {
				continue
			}
			if err := checkID("loss", id, i, t, v); err != nil {
				return 0, err
			}
			vals = append(vals, lp.At(i, t, id))
		}
	}
	if len(vals) == 0 {
		return 0, nil
	}
	return -floats.Sum(vals) / float64(len(vals)), nil
}

// Perplexity exponentiates each sequence's mean negative log-probability
// (padding excluded from that sequence's denominator) and averages the
// resulting per-sequence perplexities across the batch. This is deliberately
// not exp(Loss(...)): perplexity averages in probability space per sequence
// first, loss averages in log space globally first, and the two diverge
// whenever sequence lengths vary. Sequences that are entirely padding are
// excluded from the batch mean; a batch with none left returns 0.
func Perplexity(lp *LogProbs, targets [][]int, padID int, shift bool) (float64, error) {
	tEff, tOff, err := align("ppl", lp, targets, shift)
	if err != nil {
		return 0, err
	}
	b, _, v := lp.Dims()

	sum := 0.0
	seqs := 0
	for i := 0; i < b; i++ {
		logpSum := 0.0
		n := 0
		for t := 0; t < tEff; t++ {
			id := targets[i][t+tOff]
			if id == padID {
				continue
			}
			if err := checkID("ppl", id, i, t, v); err != nil {
				return 0, err
			}
			logpSum += lp.At(i, t, id)
			n++
		}
		if n == 0 {
			continue
		}
		sum += math.Exp(-logpSum / float64(n))
		seqs++
	}
	if seqs == 0 {
		return 0, nil
	}
	return sum / float64(seqs), nil
}

// Accuracy is the fraction of non-padding positions whose highest
// log-probability token equals the target. The result is in [0, 1]; a batch
// with no non-padding positions returns 0.
func Accuracy(lp *LogProbs, targets [][]int, padID int, shift bool) (float64, error) {
	tEff, tOff, err := align("acc", lp, targets, shift)
	if err != nil {
		return 0, err
	}
	b, _, v := lp.Dims()

	correct, n := 0, 0
	for i := 0; i < b; i++ {
		for t := 0; t < tEff; t++ {
			id := targets[i][t+tOff]
			if id == padID {
				continue
			}
			if err := checkID("acc", id, i, t, v); err != nil {
				return 0, err
			}
			if floats.MaxIdx(lp.Row(i, t)) == id {
				correct++
			}
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(correct) / float64(n), nil
}

// PCorr is the mean, over non-padding positions, of the probability the model
// assigns to the target token: the chance a single sample from the model's
// distribution would reproduce the true token. The result is in [0, 1]; a
// batch with no non-padding positions returns 0.
func PCorr(lp *LogProbs, targets [][]int, padID int, shift bool) (float64, error) {
	tEff, tOff, err := align("pcorr", lp, targets, shift)
	if err != nil {
		return 0, err
	}
	b, _, v := lp.Dims()

	sum := 0.0
	n := 0
	for i := 0; i < b; i++ {
		for t := 0; t < tEff; t++ {
			id := targets[i][t+tOff]
			if id == padID {
				continue
			}
			if err := checkID("pcorr", id, i, t, v); err != nil {
				return 0, err
			}
			sum += math.Exp(lp.At(i, t, id))
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}
