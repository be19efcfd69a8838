package IO

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ballgpt/ballgpt/models"
)

func tinyModel(t *testing.T) *models.LM {
	t.Helper()
	m, err := models.NewBall(models.Config{
		VocabSize:  10,
		DModel:     4,
		NumHeads:   2,
		HiddenSize: 8,
		NumLayers:  1,
		SeqLen:     6,
		PadTokenID: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCheckpointRoundtrip(t *testing.T) {
	rand.Seed(11)
	store := &CheckpointStore{Dir: t.TempDir()}
	m := tinyModel(t)
	ids := []int{1, 2, 3}
	want := mat.DenseCopyOf(m.Forward(ids))

	if err := store.Save("proj", "run", 42, m.Snapshot()); err != nil {
		t.Fatal(err)
	}
	snap, err := store.Load("proj", "run", 42)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := models.FromSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	if got := restored.Forward(ids); !mat.EqualApprox(want, got, 1e-12) {
		t.Error("restored checkpoint output differs")
	}
}

func TestLatestStep(t *testing.T) {
	rand.Seed(11)
	store := &CheckpointStore{Dir: t.TempDir()}
	m := tinyModel(t)

	if _, err := store.LatestStep("proj", "run"); err == nil {
		t.Error("expected error with no checkpoints")
	}
	for _, step := range []int{5, 200, 40} {
		if err := store.Save("proj", "run", step, m.Snapshot()); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.LatestStep("proj", "run")
	if err != nil {
		t.Fatal(err)
	}
	if got != 200 {
		t.Errorf("LatestStep = %d, want 200", got)
	}

	// other runs are isolated
	if _, err := store.LatestStep("proj", "other"); err == nil {
		t.Error("expected error for a run with no checkpoints")
	}
}
