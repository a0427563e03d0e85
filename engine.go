package abac

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/abac/logger"
)

// Outcome of a decision. NOT_APPLICABLE means no policy survived target
// and condition filtering; the enforcement wrapper treats it as a deny.
type Outcome string

const (
	OutcomePermit        Outcome = "PERMIT"
	OutcomeDeny          Outcome = "DENY"
	OutcomeNotApplicable Outcome = "NOT_APPLICABLE"
)

// CombiningStrategy resolves conflicts among surviving policies.
type CombiningStrategy string

const (
	// DenyOverrides is the default: any surviving deny wins, independent
	// of priority.
	DenyOverrides CombiningStrategy = "deny-overrides"
	// PriorityOverride lets the highest-priority surviving policy decide;
	// a deny still wins a priority tie.
	PriorityOverride CombiningStrategy = "priority-override"
)

// Decision is the engine's verdict for one request. Created once, never
// mutated; ownership passes to the audit logger after creation.
type Decision struct {
	Outcome          Outcome
	MatchedPolicyIDs []string
	Reason           string
	Timestamp        time.Time
}

// Engine evaluates access requests against the policy store's active
// snapshot. Evaluation is stateless and side-effect free, so concurrent
// callers need no locking.
type Engine struct {
	store    *PolicyStore
	strategy CombiningStrategy
	log      logger.Logger
	cache    *ristretto.Cache
	cacheTTL time.Duration
}

// EngineOption configures the Engine at construction.
type EngineOption func(*Engine) error

// WithLogger installs a logger on the engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.log = l
		return nil
	}
}

// WithCombining selects the conflict-resolution strategy. Deny-overrides
// is the default.
func WithCombining(s CombiningStrategy) EngineOption {
	return func(e *Engine) error {
		if s != DenyOverrides && s != PriorityOverride {
			return fmt.Errorf("unknown combining strategy %q", s)
		}
		e.strategy = s
		return nil
	}
}

// WithDecisionCache sizes the ristretto decision cache. Zero counters
// disables caching.
func WithDecisionCache(numCounters, maxCost, bufferItems int64) EngineOption {
	return func(e *Engine) error {
		if e.cache != nil {
			e.cache.Close()
			e.cache = nil
		}
		if numCounters <= 0 {
			return nil
		}
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("decision cache: %w", err)
		}
		e.cache = cache
		return nil
	}
}

// WithCacheTTL bounds how long a cached decision stays valid. Reloads
// invalidate earlier regardless, via the snapshot version in the key.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		e.cacheTTL = ttl
		return nil
	}
}

// NewEngine builds an Engine over the given store. By default it uses
// deny-overrides, a null logger and a small decision cache.
func NewEngine(store *PolicyStore, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:    store,
		strategy: DenyOverrides,
		log:      logger.NewNullLogger(),
		cacheTTL: time.Second,
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 14,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("decision cache: %w", err)
	}
	e.cache = cache
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Close releases the decision cache.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// Decide evaluates the request against the active snapshot and returns a
// decision with the matched policy identifiers, priority-descending.
func (e *Engine) Decide(req *AccessRequest) *Decision {
	snap := e.store.Snapshot()

	var key string
	if e.cache != nil {
		key = decisionKey(snap.Version(), req)
		if cached, ok := e.cache.Get(key); ok {
			if dec, ok := cached.(*Decision); ok {
				return dec
			}
		}
	}

	dec := e.evaluate(snap, req)
	if e.cache != nil {
		e.cache.SetWithTTL(key, dec, 1, e.cacheTTL)
	}
	return dec
}

func (e *Engine) evaluate(snap *Snapshot, req *AccessRequest) *Decision {
	dec := &Decision{Timestamp: req.Timestamp}
	if dec.Timestamp.IsZero() {
		dec.Timestamp = time.Now()
	}

	// Snapshot order is priority-descending, so the surviving set comes
	// out already in audit order. Conditions of policies whose targets do
	// not match are never evaluated.
	var survivors []*Policy
	for _, p := range snap.Policies() {
		if !p.Applicable(req) {
			continue
		}
		if p.Condition != nil && !p.Condition.Evaluate(req) {
			continue
		}
		survivors = append(survivors, p)
	}

	if len(survivors) == 0 {
		dec.Outcome = OutcomeNotApplicable
		dec.Reason = "no applicable policy"
		return dec
	}

	dec.MatchedPolicyIDs = make([]string, len(survivors))
	var denies, permits []string
	for i, p := range survivors {
		dec.MatchedPolicyIDs[i] = p.ID
		if p.Effect == EffectDeny {
			denies = append(denies, p.ID)
		} else {
			permits = append(permits, p.ID)
		}
	}

	switch e.strategy {
	case PriorityOverride:
		top := survivors[0].Priority
		decider := survivors[0]
		for _, p := range survivors {
			if p.Priority != top {
				break
			}
			// deny wins a priority tie
			if p.Effect == EffectDeny {
				decider = p
				break
			}
		}
		if decider.Effect == EffectDeny {
			dec.Outcome = OutcomeDeny
			dec.Reason = fmt.Sprintf("denied by highest-priority policy %s", decider.ID)
		} else {
			dec.Outcome = OutcomePermit
			dec.Reason = fmt.Sprintf("permitted by highest-priority policy %s", decider.ID)
		}
	default: // deny-overrides
		if len(denies) > 0 {
			dec.Outcome = OutcomeDeny
			dec.Reason = fmt.Sprintf("denied by %s", strings.Join(denies, ", "))
		} else {
			dec.Outcome = OutcomePermit
			dec.Reason = fmt.Sprintf("permitted by %s", strings.Join(permits, ", "))
		}
	}
	return dec
}

// decisionKey digests the request's four attribute sets together with the
// snapshot version, so a reload implicitly invalidates every cached
// decision from older generations. The request timestamp is excluded:
// time-dependent conditions must read context attributes, which are part
// of the digest. Every key, value and list element is length-prefixed
// and type-tagged so no two distinct attribute maps digest identically.
func decisionKey(version uint64, req *AccessRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d|", version)
	writeSet := func(label string, set AttributeSet) {
		h.Write([]byte(label))
		for _, k := range set.Keys() {
			v, _ := set.Get(k)
			digestString(h, k)
			digestValue(h, v)
		}
		h.Write([]byte{'|'})
	}
	writeSet("s:", req.Subject)
	writeSet("r:", req.Resource)
	writeSet("a:", req.Action)
	writeSet("c:", req.Context)
	return hex.EncodeToString(h.Sum(nil))
}

func digestString(w io.Writer, s string) {
	fmt.Fprintf(w, "%d:%s", len(s), s)
}

func digestValue(w io.Writer, v any) {
	switch vv := v.(type) {
	case nil:
		w.Write([]byte{'z'})
	case bool:
		w.Write([]byte{'b'})
		digestString(w, strconv.FormatBool(vv))
	case float64:
		w.Write([]byte{'n'})
		digestString(w, strconv.FormatFloat(vv, 'f', -1, 64))
	case []string:
		fmt.Fprintf(w, "l%d:", len(vv))
		for _, item := range vv {
			digestString(w, item)
		}
	default:
		w.Write([]byte{'s'})
		digestString(w, valueString(v))
	}
}
