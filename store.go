package abac

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/oarkflow/abac/logger"
)

// Snapshot is one immutable generation of the policy set. In-flight
// evaluations hold the snapshot they started with; a reload never changes
// a snapshot already handed out.
type Snapshot struct {
	policies []*Policy
	version  uint64
}

// Policies returns the snapshot's policies ordered priority-descending
// (ties broken by ID). Callers must treat the slice as read-only.
func (s *Snapshot) Policies() []*Policy { return s.policies }

// Version identifies the snapshot generation; it increments on every
// successful load or reload.
func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the number of policies in the snapshot.
func (s *Snapshot) Len() int { return len(s.policies) }

// PolicyStore holds the active policy snapshot, loaded from a directory
// of JSON policy documents. The active snapshot is replaced atomically;
// no evaluation ever observes a half-swapped store.
type PolicyStore struct {
	active  atomic.Pointer[Snapshot]
	version atomic.Uint64
	log     logger.Logger
}

// NewPolicyStore starts with an empty snapshot, which is a valid store:
// every request resolves NOT_APPLICABLE until policies are loaded.
func NewPolicyStore(log logger.Logger) *PolicyStore {
	if log == nil {
		log = logger.NewNullLogger()
	}
	s := &PolicyStore{log: log}
	s.active.Store(&Snapshot{})
	return s
}

// Load parses every *.json document in dir and atomically installs the
// result as the active snapshot. Malformed documents are skipped and
// reported; they never abort the load. Returns the number of policies
// loaded and the per-document errors.
func (s *PolicyStore) Load(dir string) (int, []*PolicyLoadError) {
	policies, loadErrs, err := s.parseDir(dir)
	if err != nil {
		return 0, []*PolicyLoadError{{Path: dir, Reason: err}}
	}
	s.install(policies)
	s.log.Info("policy store loaded", "dir", dir, "count", len(policies), "errors", len(loadErrs))
	return len(policies), loadErrs
}

// Reload atomically swaps in a fresh snapshot parsed from dir. When the
// directory is unreadable, or it contains documents but none survives
// validation, the reload aborts with a StoreReloadError and the previous
// snapshot stays active.
func (s *PolicyStore) Reload(dir string) (int, []*PolicyLoadError, error) {
	policies, loadErrs, err := s.parseDir(dir)
	if err != nil {
		return 0, nil, &StoreReloadError{Dir: dir, Reason: err}
	}
	if len(policies) == 0 && len(loadErrs) > 0 {
		return 0, loadErrs, &StoreReloadError{Dir: dir, Reason: fmt.Errorf("no valid policy among %d documents", len(loadErrs))}
	}
	s.install(policies)
	s.log.Info("policy store reloaded", "dir", dir, "count", len(policies), "errors", len(loadErrs))
	return len(policies), loadErrs, nil
}

// All returns the active snapshot's policies, priority-descending.
func (s *PolicyStore) All() []*Policy { return s.Snapshot().Policies() }

// Snapshot returns the active snapshot.
func (s *PolicyStore) Snapshot() *Snapshot { return s.active.Load() }

func (s *PolicyStore) install(policies []*Policy) {
	s.active.Store(&Snapshot{
		policies: policies,
		version:  s.version.Add(1),
	})
}

func (s *PolicyStore) parseDir(dir string) ([]*Policy, []*PolicyLoadError, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, nil, err
	}
	sort.Strings(paths)

	var loadErrs []*PolicyLoadError
	byID := make(map[string]int)
	policies := make([]*Policy, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			loadErrs = append(loadErrs, &PolicyLoadError{Path: path, Reason: err})
			continue
		}
		p := &Policy{}
		if err := json.Unmarshal(data, p); err != nil {
			loadErrs = append(loadErrs, &PolicyLoadError{Path: path, Reason: err})
			continue
		}
		if prev, dup := byID[p.ID]; dup {
			// last-loaded wins on identifier collision
			s.log.Error("duplicate policy id, keeping later document", "id", p.ID, "path", path)
			policies[prev] = p
			continue
		}
		byID[p.ID] = len(policies)
		policies = append(policies, p)
	}

	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].ID < policies[j].ID
	})
	return policies, loadErrs, nil
}
