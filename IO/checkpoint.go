package IO

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ballgpt/ballgpt/models"
)

// CheckpointStore persists model snapshots keyed by (project, name, step)
// under dir/<project>_<name>/<step zero-padded to 12>/checkpoint.ckpt.
type CheckpointStore struct {
	Dir string
}

func (s *CheckpointStore) path(project, name string, step int) string {
	return filepath.Join(s.Dir,
		fmt.Sprintf("%s_%s", project, name),
		fmt.Sprintf("%012d", step),
		"checkpoint.ckpt")
}

// Save writes a snapshot for the given key, creating directories as needed.
func (s *CheckpointStore) Save(project, name string, step int, snap *models.Snapshot) error {
	p := s.path(project, name, step)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(snap)
}

// Load reads the snapshot stored for the given key.
func (s *CheckpointStore) Load(project, name string, step int) (*models.Snapshot, error) {
	f, err := os.Open(s.path(project, name, step))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var snap models.Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// LatestStep returns the highest step saved for (project, name), or an error
// when nothing is stored yet.
func (s *CheckpointStore) LatestStep(project, name string) (int, error) {
	dir := filepath.Join(s.Dir, fmt.Sprintf("%s_%s", project, name))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	steps := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil {
			steps = append(steps, n)
		}
	}
	if len(steps) == 0 {
		return 0, fmt.Errorf("IO: no checkpoints under %s", dir)
	}
	sort.Ints(steps)
	return steps[len(steps)-1], nil
}
