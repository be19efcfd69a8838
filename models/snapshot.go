package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// TensorState is a raw parameter flattened for serialization.
type TensorState struct {
	Rows, Cols int
	Data       []float64
}

// Snapshot is everything needed to rebuild a model: the registry tag, the
// shape config, and every raw tensor keyed by tree path.
type Snapshot struct {
	Tag     string
	Cfg     Config
	Tensors map[string]TensorState
}

// Snapshot copies the model's raw parameters out.
func (m *LM) Snapshot() *Snapshot {
	s := &Snapshot{
		Tag:     m.Variant(),
		Cfg:     m.Cfg,
		Tensors: make(map[string]TensorState),
	}
	for _, p := range m.Params() {
		r, c := p.Value.Dims()
		data := make([]float64, r*c)
		for i := 0; i < r; i++ {
			copy(data[i*c:(i+1)*c], p.Value.RawRowView(i))
		}
		s.Tensors[p.Name] = TensorState{Rows: r, Cols: c, Data: data}
	}
	return s
}

// Restore copies a snapshot's tensors back into the model. Every parameter
// must be present with matching dims.
func (m *LM) Restore(s *Snapshot) error {
	for _, p := range m.Params() {
		ts, ok := s.Tensors[p.Name]
		if !ok {
			return fmt.Errorf("models: snapshot missing tensor %q", p.Name)
		}
		r, c := p.Value.Dims()
		if ts.Rows != r || ts.Cols != c {
			return fmt.Errorf("models: snapshot tensor %q is (%d x %d), want (%d x %d)",
				p.Name, ts.Rows, ts.Cols, r, c)
		}
		p.Value.Copy(mat.NewDense(r, c, append([]float64(nil), ts.Data...)))
	}
	return nil
}

// FromSnapshot rebuilds a model from a snapshot via the registry.
func FromSnapshot(s *Snapshot) (*LM, error) {
	m, err := Build(s.Tag, s.Cfg)
	if err != nil {
		return nil, err
	}
	if err := m.Restore(s); err != nil {
		return nil, err
	}
	return m, nil
}
