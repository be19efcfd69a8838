// Package params defines the training configuration and the vocabulary
// mapping shared between the tokenizer, trainer, and CLI.
package params

// Vocabulary maps between token strings and ids.
type Vocabulary struct {
	TokenToID map[string]int
	IDToToken []string
}

// TrainingConfig collects every knob of the optimization loop. Model shape
// lives in models.Config; this is only about how training runs.
type TrainingConfig struct {
	// Per-module peak learning rates.
	AttnLR float64
	MLPLR  float64
	NormLR float64
	HeadLR float64
	EmbLR  float64

	// Schedule: linear warmup, then cosine decay (0 = hold at peak).
	WarmupSteps int
	DecaySteps  int

	AdamBeta1 float64 // default 0.9
	AdamBeta2 float64 // default 0.999
	AdamEps   float64 // default 1e-8

	GradClip    float64 // <=0 disables
	WeightDecay float64 // AdamW-style, applied to weights only

	// Density penalty (density-aware variants only): the penalty weight ramps
	// linearly from 0 to WDensity over DensityRampSteps optimizer steps.
	WDensity         float64
	DensityRampSteps int

	BatchSize int
	MaxSteps  int
	EvalEvery int // run eval metrics every N steps (0 = never)

	// Checkpointing: (Project, Name, step) keys the store.
	Project        string
	Name           string
	SaveEverySteps int // 0 = disable

	Debug      bool
	DebugEvery int
}

// Default returns a configuration sized for small local experiments.
func Default() TrainingConfig {
	return TrainingConfig{
		AttnLR: 3e-4,
		MLPLR:  3e-4,
		NormLR: 3e-4,
		HeadLR: 3e-4,
		EmbLR:  3e-4,

		WarmupSteps: 100,
		DecaySteps:  0,

		AdamBeta1: 0.9,
		AdamBeta2: 0.999,
		AdamEps:   1e-8,

		GradClip:    1.0,
		WeightDecay: 0.01,

		WDensity:         0.0,
		DensityRampSteps: 1000,

		BatchSize: 8,
		MaxSteps:  1000,
		EvalEvery: 50,

		Project:        "ballgpt",
		Name:           "dev",
		SaveEverySteps: 0,

		Debug:      false,
		DebugEvery: 100,
	}
}
