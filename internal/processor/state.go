package processor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/resilience"
)

// stateFiles persists the review queues and dead letters so they survive
// process restarts. Each file holds one JSON array and is rewritten
// atomically via rename.
type stateFiles struct {
	dir string
	mu  sync.Mutex
}

func newStateFiles(dir string) (*stateFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "processor: create state dir %s", dir)
	}
	return &stateFiles{dir: dir}, nil
}

func (s *stateFiles) pendingPath(reviewTier int) string {
	if reviewTier == 3 {
		return filepath.Join(s.dir, "pending_individual.json")
	}
	return filepath.Join(s.dir, "pending_batch.json")
}

func (s *stateFiles) deadLetterPath() string {
	return filepath.Join(s.dir, "dead_letter.json")
}

// appendPending adds pc to its tier's on-disk queue.
func (s *stateFiles) appendPending(pc model.PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queue []model.PendingChange
	if err := readJSON(s.pendingPath(pc.Tier), &queue); err != nil {
		return err
	}
	queue = append(queue, pc)
	return writeJSON(s.pendingPath(pc.Tier), queue)
}

// loadPending returns the persisted queue for a tier.
func (s *stateFiles) loadPending(reviewTier int) ([]model.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queue []model.PendingChange
	if err := readJSON(s.pendingPath(reviewTier), &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// removePending drops a resolved change from its tier's queue. Unknown
// IDs are a no-op.
func (s *stateFiles) removePending(reviewTier int, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queue []model.PendingChange
	if err := readJSON(s.pendingPath(reviewTier), &queue); err != nil {
		return err
	}
	kept := queue[:0]
	for _, pc := range queue {
		if pc.ID != id {
			kept = append(kept, pc)
		}
	}
	if len(kept) == len(queue) {
		return nil
	}
	return writeJSON(s.pendingPath(reviewTier), kept)
}

// appendDeadLetter records a permanently failed document.
func (s *stateFiles) appendDeadLetter(dl resilience.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var letters []resilience.DeadLetter
	if err := readJSON(s.deadLetterPath(), &letters); err != nil {
		return err
	}
	letters = append(letters, dl)
	return writeJSON(s.deadLetterPath(), letters)
}

// loadDeadLetters returns the recorded dead letters.
func (s *stateFiles) loadDeadLetters() ([]resilience.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var letters []resilience.DeadLetter
	if err := readJSON(s.deadLetterPath(), &letters); err != nil {
		return nil, err
	}
	return letters, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "processor: read %s", path)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "processor: decode %s", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "processor: encode %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "processor: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "processor: rename %s", path)
	}
	return nil
}
