package trainers

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ballgpt/ballgpt/IO"
	"github.com/ballgpt/ballgpt/metrics"
	"github.com/ballgpt/ballgpt/models"
	"github.com/ballgpt/ballgpt/params"
)

// StepResults is what one optimizer step produced. Loss is the optimized
// objective; LMLoss the cross-entropy term alone. The evaluation metrics are
// only filled on eval steps.
type StepResults struct {
	Step   int
	LMLoss float64
	Loss   float64

	WDensity    float64
	Density     float64
	DensityLoss float64

	PPL, Acc, PCorr float64
	Evaluated       bool
}

// LMTrainer drives a plain language-modeling objective: scheduled LRs,
// gather-based cross-entropy on the shifted targets, one backward pass per
// sequence.
type LMTrainer struct {
	Model *models.LM
	Cfg   params.TrainingConfig
	Store *IO.CheckpointStore // nil disables checkpointing

	step int
}

func NewLMTrainer(model *models.LM, cfg params.TrainingConfig) *LMTrainer {
	opt := model.Optimizer()
	opt.Beta1 = cfg.AdamBeta1
	opt.Beta2 = cfg.AdamBeta2
	opt.Eps = cfg.AdamEps
	opt.WeightDecay = cfg.WeightDecay
	opt.GradClip = cfg.GradClip
	return &LMTrainer{Model: model, Cfg: cfg}
}

// Step reports the number of completed optimizer steps.
func (tr *LMTrainer) Step() int { return tr.step }

// countValid counts non-padding target positions under the next-token shift,
// which fixes the global loss denominator before any forward pass runs.
func countValid(targets [][]int) int {
	n := 0
	for _, seq := range targets {
		for t := 1; t < len(seq); t++ {
			if seq[t] != metrics.PadID {
				n++
			}
		}
	}
	return n
}

// lmLossGrad builds dLoss/dLogits (V x T) for one sequence from its
// log-probabilities: softmax minus one-hot at shifted valid positions, scaled
// by the global valid count. The last logits column predicts nothing under
// the shift and gets zero gradient, as do padded positions.
func lmLossGrad(logp *mat.Dense, targets []int, nValid int) *mat.Dense {
	V, T := logp.Dims()
	d := mat.NewDense(V, T, nil)
	inv := 1.0 / float64(nValid)
	for t := 0; t < T-1; t++ {
		gold := targets[t+1]
		if gold == metrics.PadID {
			continue
		}
		for v := 0; v < V; v++ {
			d.Set(v, t, math.Exp(logp.At(v, t))*inv)
		}
		d.Set(gold, t, d.At(gold, t)-inv)
	}
	return d
}

// TrainStep runs one batch: forward, metrics, backward with in-place updates.
func (tr *LMTrainer) TrainStep(batch IO.TokenBatch) (StepResults, error) {
	tr.step++
	res := StepResults{Step: tr.step}

	cfg := tr.Cfg
	tr.Model.SetLearningRates(
		LRSchedule(tr.step, cfg.WarmupSteps, cfg.DecaySteps, cfg.AttnLR),
		LRSchedule(tr.step, cfg.WarmupSteps, cfg.DecaySteps, cfg.MLPLR),
		LRSchedule(tr.step, cfg.WarmupSteps, cfg.DecaySteps, cfg.NormLR),
		LRSchedule(tr.step, cfg.WarmupSteps, cfg.DecaySteps, cfg.HeadLR),
		LRSchedule(tr.step, cfg.WarmupSteps, cfg.DecaySteps, cfg.EmbLR),
	)

	B, T := batch.Size()
	if B == 0 {
		return res, fmt.Errorf("trainers: empty batch")
	}
	nValid := countValid(batch.Targets)

	lp := metrics.NewLogProbs(B, T, tr.Model.Cfg.VocabSize)
	col := make([]float64, tr.Model.Cfg.VocabSize)
	for b := 0; b < B; b++ {
		logp := tr.Model.LogProbsSeq(batch.Inputs[b])
		for t := 0; t < T; t++ {
			for v := range col {
				col[v] = logp.At(v, t)
			}
			lp.SetRow(b, t, col)
		}
		if nValid > 0 {
			tr.Model.Backward(lmLossGrad(logp, batch.Targets[b], nValid))
		}
	}

	loss, err := metrics.Loss(lp, batch.Targets, metrics.PadID, true)
	if err != nil {
		return res, err
	}
	res.LMLoss = loss
	res.Loss = loss

	if cfg.EvalEvery > 0 && tr.step%cfg.EvalEvery == 0 {
		if res.PPL, err = metrics.Perplexity(lp, batch.Targets, metrics.PadID, true); err != nil {
			return res, err
		}
		if res.Acc, err = metrics.Accuracy(lp, batch.Targets, metrics.PadID, true); err != nil {
			return res, err
		}
		if res.PCorr, err = metrics.PCorr(lp, batch.Targets, metrics.PadID, true); err != nil {
			return res, err
		}
		res.Evaluated = true
	}

	if tr.Store != nil && cfg.SaveEverySteps > 0 && tr.step%cfg.SaveEverySteps == 0 {
		if err := tr.Store.Save(cfg.Project, cfg.Name, tr.step, tr.Model.Snapshot()); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Run pulls batches from next until MaxSteps is hit or next reports done,
// printing progress lines as it goes.
func (tr *LMTrainer) Run(next func() (IO.TokenBatch, bool)) error {
	for tr.step < tr.Cfg.MaxSteps {
		batch, ok := next()
		if !ok {
			return nil
		}
		res, err := tr.TrainStep(batch)
		if err != nil {
			return err
		}
		if res.Evaluated {
			fmt.Printf("step %d: loss=%.4f ppl=%.2f acc=%.4f pcorr=%.4f\n",
				res.Step, res.Loss, res.PPL, res.Acc, res.PCorr)
		} else if tr.Cfg.Debug && tr.Cfg.DebugEvery > 0 && res.Step%tr.Cfg.DebugEvery == 0 {
			fmt.Printf("step %d: loss=%.4f\n", res.Step, res.Loss)
		}
	}
	return nil
}

// Eval runs the four metrics on one batch without touching the weights.
func (tr *LMTrainer) Eval(batch IO.TokenBatch) (StepResults, error) {
	res := StepResults{Step: tr.step, Evaluated: true}
	lp, err := tr.Model.LogProbsBatch(batch.Inputs)
	if err != nil {
		return res, err
	}
	if res.LMLoss, err = metrics.Loss(lp, batch.Targets, metrics.PadID, true); err != nil {
		return res, err
	}
	res.Loss = res.LMLoss
	if res.PPL, err = metrics.Perplexity(lp, batch.Targets, metrics.PadID, true); err != nil {
		return res, err
	}
	if res.Acc, err = metrics.Accuracy(lp, batch.Targets, metrics.PadID, true); err != nil {
		return res, err
	}
	if res.PCorr, err = metrics.PCorr(lp, batch.Targets, metrics.PadID, true); err != nil {
		return res, err
	}
	return res, nil
}
