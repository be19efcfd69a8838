package trainers

import (
	"fmt"

	"github.com/ballgpt/ballgpt/IO"
)

// DensityModel exposes a scalar density statistic of the current weights.
// Models that reparameterize onto the unit sphere report the mean per-row
// participation of their directions here.
type DensityModel interface {
	Density() float64
}

// PBitTrainer wraps LMTrainer with a ramped density penalty: the reported
// objective becomes lmLoss + w * density, where w climbs linearly from 0 to
// WDensity over DensityRampSteps. The penalty shapes the sphere directions
// through the model's own update path; the wrapper only composes and logs the
// combined objective.
type PBitTrainer struct {
	*LMTrainer
	Dense DensityModel
}

func NewPBitTrainer(lm *LMTrainer, dense DensityModel) *PBitTrainer {
	return &PBitTrainer{LMTrainer: lm, Dense: dense}
}

// weight returns the ramped penalty coefficient for a given step.
func (tr *PBitTrainer) weight(step int) float64 {
	w := tr.Cfg.WDensity
	if tr.Cfg.DensityRampSteps > 0 && step < tr.Cfg.DensityRampSteps {
		w *= float64(step) / float64(tr.Cfg.DensityRampSteps)
	}
	return w
}

// TrainStep runs one LM step and folds the density penalty into the result.
func (tr *PBitTrainer) TrainStep(batch IO.TokenBatch) (StepResults, error) {
	res, err := tr.LMTrainer.TrainStep(batch)
	if err != nil {
		return res, err
	}
	res.WDensity = tr.weight(res.Step)
	res.Density = tr.Dense.Density()
	res.DensityLoss = res.WDensity * res.Density
	res.Loss = res.LMLoss + res.DensityLoss
	return res, nil
}

// Run mirrors LMTrainer.Run but logs the penalty terms on eval steps.
func (tr *PBitTrainer) Run(next func() (IO.TokenBatch, bool)) error {
	for tr.Step() < tr.Cfg.MaxSteps {
		batch, ok := next()
		if !ok {
			return nil
		}
		res, err := tr.TrainStep(batch)
		if err != nil {
			return err
		}
		if res.Evaluated {
			fmt.Printf("step %d: loss=%.4f lm=%.4f density=%.4f (w=%.4g) ppl=%.2f acc=%.4f pcorr=%.4f\n",
				res.Step, res.Loss, res.LMLoss, res.Density, res.WDensity,
				res.PPL, res.Acc, res.PCorr)
		} else if tr.Cfg.Debug && tr.Cfg.DebugEvery > 0 && res.Step%tr.Cfg.DebugEvery == 0 {
			fmt.Printf("step %d: loss=%.4f lm=%.4f\n", res.Step, res.Loss, res.LMLoss)
		}
	}
	return nil
}
