package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"taskforge/internal/logging"
)

// FileManager persists checkpoints under root, one directory per execution:
//
//	<root>/<execution_id>/v0001.json
//	<root>/<execution_id>/v0002.json
//	<root>/<execution_id>/latest        (contains the highest version number)
//
// Concurrent writers to the same execution id are serialized by a per-id
// mutex; different executions never contend with each other.
type FileManager struct {
	root string

	mu       sync.Mutex // guards the locks map itself
	locks    map[string]*sync.Mutex
	logger   *logging.Logger
}

// NewFileManager returns a Manager rooted at dir. The directory is created
// lazily on first Save.
func NewFileManager(dir string) *FileManager {
	return &FileManager{
		root:   dir,
		locks:  make(map[string]*sync.Mutex),
		logger: logging.NewComponentLogger("checkpoint"),
	}
}

func (m *FileManager) lockFor(executionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[executionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[executionID] = l
	}
	return l
}

func (m *FileManager) execDir(executionID string) string {
	return filepath.Join(m.root, executionID)
}

func (m *FileManager) versionPath(executionID string, version int) string {
	return filepath.Join(m.execDir(executionID), fmt.Sprintf("v%04d.json", version))
}

func (m *FileManager) latestPath(executionID string) string {
	return filepath.Join(m.execDir(executionID), "latest")
}

// Save writes cp as the next version for its execution id, strictly
// increasing from 1, and atomically repoints "latest" at it.
func (m *FileManager) Save(cp Checkpoint) (int, error) {
	if cp.ExecutionID == "" {
		return 0, fmt.Errorf("checkpoint: execution id is required")
	}

	lock := m.lockFor(cp.ExecutionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.currentVersionLocked(cp.ExecutionID)
	if err != nil {
		return 0, err
	}
	cp.Version = current + 1

	data, err := MarshalJSONIndent(cp)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: marshal failed: %w", err)
	}

	if err := AtomicWrite(m.versionPath(cp.ExecutionID, cp.Version), data, 0o644); err != nil {
		return 0, fmt.Errorf("checkpoint: write failed: %w", err)
	}
	if err := AtomicWrite(m.latestPath(cp.ExecutionID), []byte(strconv.Itoa(cp.Version)), 0o644); err != nil {
		return 0, fmt.Errorf("checkpoint: latest-pointer write failed: %w", err)
	}

	m.logger.Debug("Saved checkpoint %s v%d (%s)", cp.ExecutionID, cp.Version, cp.Status)
	return cp.Version, nil
}

// currentVersionLocked returns the highest version on disk for executionID,
// or 0 if none exists yet. Caller must hold the per-id lock.
func (m *FileManager) currentVersionLocked(executionID string) (int, error) {
	data, err := ReadFileOrEmpty(m.latestPath(executionID))
	if err != nil {
		return 0, fmt.Errorf("checkpoint: read latest pointer: %w", err)
	}
	if data == nil {
		return 0, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("checkpoint: corrupt latest pointer for %s: %w", executionID, err)
	}
	return v, nil
}

// Load returns the highest-version checkpoint for executionID, or
// ErrNotFound if none exists.
func (m *FileManager) Load(executionID string) (Checkpoint, error) {
	lock := m.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	version, err := m.currentVersionLocked(executionID)
	if err != nil {
		return Checkpoint{}, err
	}
	if version == 0 {
		return Checkpoint{}, ErrNotFound
	}

	data, err := os.ReadFile(m.versionPath(executionID, version))
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("checkpoint: read failed: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: unmarshal failed: %w", err)
	}
	return cp, nil
}

// List returns summary metadata for every execution under root, optionally
// filtered to a single workflow id. Corrupt entries are skipped.
func (m *FileManager) List(workflowID string) ([]Meta, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: readdir failed: %w", err)
	}

	var out []Meta
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		executionID := entry.Name()
		cp, err := m.Load(executionID)
		if err != nil {
			continue
		}
		if workflowID != "" && cp.WorkflowID != workflowID {
			continue
		}
		out = append(out, Meta{
			ExecutionID: cp.ExecutionID,
			WorkflowID:  cp.WorkflowID,
			Version:     cp.Version,
			Status:      cp.Status,
			Timestamp:   cp.Timestamp,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Delete removes all checkpoint data for executionID. Failure is logged,
// not fatal, per the Checkpoint Manager's best-effort deletion contract.
func (m *FileManager) Delete(executionID string) error {
	lock := m.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(m.execDir(executionID)); err != nil {
		m.logger.Warn("Failed to delete checkpoint directory for %s: %v", executionID, err)
		return err
	}
	return nil
}
