// Package models builds the language-model module tree: embedding, attention
// and MLP blocks, normalization, and the read-out head. Every weight-bearing
// layer is one member of a closed, capability-tagged variant set — projections
// are {PlainProjection, SphereProjection, ExemptProjection} and norms are
// {PlainNorm, SphereNorm} — chosen when the tree is constructed, never mutated
// afterwards.
package models

import "fmt"

// Config is the model shape. Optimization settings live in params.
type Config struct {
	VocabSize  int
	DModel     int
	NumHeads   int
	HiddenSize int
	NumLayers  int
	SeqLen     int

	// PadTokenID is the real vocabulary id used to pad model inputs. Targets
	// use the metrics padding sentinel instead; this id only has to be a valid
	// embedding row.
	PadTokenID int

	// Fused routes exempt projections through the in-place fused execution
	// path. The portable path is always available and numerically equivalent.
	Fused bool
}

// Validate rejects impossible shapes up front.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return &ConfigurationError{Field: "VocabSize", Reason: "must be positive"}
	case c.DModel <= 0:
		return &ConfigurationError{Field: "DModel", Reason: "must be positive"}
	case c.NumHeads <= 0:
		return &ConfigurationError{Field: "NumHeads", Reason: "must be positive"}
	case c.DModel%c.NumHeads != 0:
		return &ConfigurationError{Field: "NumHeads", Reason: fmt.Sprintf("must divide DModel (%d %% %d != 0)", c.DModel, c.NumHeads)}
	case c.HiddenSize <= 0:
		return &ConfigurationError{Field: "HiddenSize", Reason: "must be positive"}
	case c.NumLayers <= 0:
		return &ConfigurationError{Field: "NumLayers", Reason: "must be positive"}
	case c.SeqLen <= 0:
		return &ConfigurationError{Field: "SeqLen", Reason: "must be positive"}
	case c.PadTokenID < 0 || c.PadTokenID >= c.VocabSize:
		return &ConfigurationError{Field: "PadTokenID", Reason: fmt.Sprintf("id %d outside vocab [0, %d)", c.PadTokenID, c.VocabSize)}
	}
	return nil
}

// ConfigurationError reports an invalid model construction request, such as a
// bias on a sphere projection. Construction fails immediately; nothing is
// deferred to forward-pass time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("models: bad configuration: %s %s", e.Field, e.Reason)
}

// Opt carries the optimizer hyperparameters every layer's Backward uses.
// Learning rates are per-layer fields set by the trainer each step.
type Opt struct {
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	GradClip    float64
}

// DefaultOpt matches the params defaults; the trainer overrides it.
func DefaultOpt() *Opt {
	return &Opt{Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, WeightDecay: 0.0, GradClip: 0}
}
