// Package checkpoint persists run state snapshots with an integrity sidecar.
// A write is all-or-nothing: after Save returns, either the checkpoint file
// holds the complete serialization or it does not exist at all.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/state"
)

const (
	filePattern   = "checkpoint_%04d.json"
	sidecarSuffix = ".sha256"
	// QuarantineDir holds corrupted checkpoints plus their sidecars.
	QuarantineDir = "quarantine"
	// rotationFloor is the minimum retained regardless of configuration, so
	// a crash during the newest write always leaves a valid predecessor.
	rotationFloor = 2
)

// ErrNoCheckpoint means recovery found nothing valid to resume from.
var ErrNoCheckpoint = errors.New("no valid checkpoint")

// Store writes and recovers checkpoints inside one run directory.
type Store struct {
	dir     string
	maxKeep int
	logger  *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxKeep sets the rotation retention. Values below the floor of 2 are
// raised to it.
func WithMaxKeep(n int) Option {
	return func(s *Store) { s.maxKeep = n }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates the run directory if needed and returns a store over it.
func NewStore(runDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	s := &Store{
		dir:     runDir,
		maxKeep: 5,
		logger:  log.New(os.Stderr, "[CKPT] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxKeep < rotationFloor {
		s.maxKeep = rotationFloor
	}
	return s, nil
}

// Dir returns the run directory the store owns.
func (s *Store) Dir() string { return s.dir }

// Save snapshots the state as checkpoint N. Protocol: serialize, hash, write
// to a temp file in the same directory, fsync, rename into place, then write
// the hash sidecar. Failures remove the temp file and propagate.
func (s *Store) Save(step int, st *state.ResearchState) (string, error) {
	data, err := st.Marshal()
	if err != nil {
		return "", fmt.Errorf("serialize checkpoint %d: %w", step, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	dest := filepath.Join(s.dir, fmt.Sprintf(filePattern, step))
	tmp, err := os.CreateTemp(s.dir, ".tmp-checkpoint-*")
	if err != nil {
		return "", fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return "", fmt.Errorf("write checkpoint %d: %w", step, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("sync checkpoint %d: %w", step, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close checkpoint %d: %w", step, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publish checkpoint %d: %w", step, err)
	}
	if err := os.WriteFile(dest+sidecarSuffix, []byte(digest+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint sidecar %d: %w", step, err)
	}
	if err := s.rotate(); err != nil {
		s.logger.Printf("rotation after checkpoint %d: %v", step, err)
	}
	return dest, nil
}

// Load reads and verifies one checkpoint by step number, migrating older
// schemas forward.
func (s *Store) Load(step int) (*state.ResearchState, error) {
	return s.loadFile(filepath.Join(s.dir, fmt.Sprintf(filePattern, step)))
}

func (s *Store) loadFile(path string) (*state.ResearchState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	sidecar, err := os.ReadFile(path + sidecarSuffix)
	if err != nil {
		return nil, errkind.Newf(errkind.CheckpointCorrupt, "checkpoint", "missing sidecar for %s: %v", filepath.Base(path), err)
	}
	want := strings.TrimSpace(string(sidecar))
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != want {
		return nil, errkind.Newf(errkind.CheckpointCorrupt, "checkpoint", "hash mismatch for %s", filepath.Base(path))
	}
	st, err := state.Migrate(data)
	if err != nil {
		return nil, errkind.New(errkind.CheckpointCorrupt, "checkpoint", err)
	}
	return st, nil
}

// Recover walks checkpoints newest-first and returns the first one that
// verifies, quarantining everything corrupt along the way. ErrNoCheckpoint
// is returned when the directory holds nothing usable.
func (s *Store) Recover() (*state.ResearchState, int, error) {
	steps, err := s.list()
	if err != nil {
		return nil, 0, err
	}
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		path := filepath.Join(s.dir, fmt.Sprintf(filePattern, step))
		st, err := s.loadFile(path)
		if err == nil {
			return st, step, nil
		}
		if errkind.Is(err, errkind.CheckpointCorrupt) {
			s.logger.Printf("checkpoint %04d corrupt, quarantining: %v", step, err)
			if qerr := s.quarantine(path); qerr != nil {
				s.logger.Printf("quarantine %04d: %v", step, qerr)
			}
			continue
		}
		return nil, 0, err
	}
	return nil, 0, ErrNoCheckpoint
}

// quarantine moves a checkpoint and its sidecar under quarantine/ instead of
// deleting them, preserving the evidence.
func (s *Store) quarantine(path string) error {
	qdir := filepath.Join(s.dir, QuarantineDir)
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return err
	}
	base := filepath.Base(path)
	if err := os.Rename(path, filepath.Join(qdir, base)); err != nil && !os.IsNotExist(err) {
		return err
	}
	sidecar := path + sidecarSuffix
	if err := os.Rename(sidecar, filepath.Join(qdir, base+sidecarSuffix)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// rotate removes the oldest checkpoints beyond the retention window.
func (s *Store) rotate() error {
	steps, err := s.list()
	if err != nil {
		return err
	}
	keep := s.maxKeep
	if keep < rotationFloor {
		keep = rotationFloor
	}
	if len(steps) <= keep {
		return nil
	}
	for _, step := range steps[:len(steps)-keep] {
		path := filepath.Join(s.dir, fmt.Sprintf(filePattern, step))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.Remove(path + sidecarSuffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// list returns checkpoint step numbers in ascending order.
func (s *Store) list() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var steps []int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "checkpoint_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		numPart := strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint_"), ".json")
		step, err := strconv.Atoi(numPart)
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}
	sort.Ints(steps)
	return steps, nil
}

// LatestStep returns the highest on-disk step number, or 0 when none exist.
func (s *Store) LatestStep() (int, error) {
	steps, err := s.list()
	if err != nil {
		return 0, err
	}
	if len(steps) == 0 {
		return 0, nil
	}
	return steps[len(steps)-1], nil
}
