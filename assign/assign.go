package assign

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pipeline"
)

// Strategy names form a closed set. Unknown names are configuration
// errors, never a runtime fallback.
const (
	StrategyRoundRobin  = "round_robin"
	StrategyLeastLoaded = "least_loaded"
	StrategyFixed       = "fixed"
	StrategyManagerOf   = "manager_of"
)

const (
	ErrCodeNoTarget = "PIPELINE_NO_ASSIGNMENT_TARGET"
)

// ErrNoTarget reports that a strategy resolved to nobody: an empty
// candidate pool, or no manager for the current owner.
var ErrNoTarget = apperrors.New("no assignment target", apperrors.CategoryBadInput).
	WithTextCode(ErrCodeNoTarget)

// Strategy is the configured assignment policy for a stage or action.
type Strategy struct {
	Name       string   `yaml:"name" json:"name"`
	Owner      string   `yaml:"owner,omitempty" json:"owner,omitempty"`
	Candidates []string `yaml:"candidates,omitempty" json:"candidates,omitempty"`
}

// Validate rejects unknown strategy names at load time.
func (s Strategy) Validate() error {
	switch strings.TrimSpace(s.Name) {
	case StrategyRoundRobin, StrategyLeastLoaded, StrategyManagerOf:
		return nil
	case StrategyFixed:
		if strings.TrimSpace(s.Owner) == "" {
			return pipeline.CloneError(pipeline.ErrBadDefinition, "fixed strategy requires an owner", nil, nil)
		}
		return nil
	default:
		return pipeline.CloneError(
			pipeline.ErrUnknownStrategy,
			fmt.Sprintf("unknown assignment strategy %q", s.Name),
			nil,
			map[string]any{"strategy": s.Name},
		)
	}
}

// Request carries the inputs a strategy resolves against. Candidates
// defaults to the strategy's configured pool when empty.
type Request struct {
	Tenant         string
	PipelineID     string
	StageID        string
	CurrentOwnerID string
	Candidates     []string
}

// Resolver picks an owner for an entity using a named strategy. The
// round-robin cursor is shared mutable state per (pipeline, stage) and is
// advanced under a lock so concurrent resolutions never skip or duplicate
// a candidate.
type Resolver struct {
	org      pipeline.OrgLookup
	entities pipeline.EntityStore
	logger   pipeline.Logger

	mu      sync.Mutex
	cursors map[string]int
}

// Option customizes resolver construction.
type Option func(*Resolver)

// WithOrgLookup wires the collaborator backing manager_of.
func WithOrgLookup(org pipeline.OrgLookup) Option {
	return func(r *Resolver) {
		r.org = org
	}
}

// WithEntityStore wires the store backing least_loaded counting.
func WithEntityStore(store pipeline.EntityStore) Option {
	return func(r *Resolver) {
		r.entities = store
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger pipeline.Logger) Option {
	return func(r *Resolver) {
		r.logger = pipeline.NormalizeLogger(logger)
	}
}

// NewResolver constructs a resolver with empty round-robin cursors.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		cursors: make(map[string]int),
		logger:  pipeline.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the chosen owner id for the strategy, or ErrNoTarget
// when the strategy resolves to nobody. Unknown strategies surface the
// configuration error from Strategy.Validate.
func (r *Resolver) Resolve(ctx context.Context, strategy Strategy, req Request) (string, error) {
	if err := strategy.Validate(); err != nil {
		return "", err
	}

	candidates := req.Candidates
	if len(candidates) == 0 {
		candidates = strategy.Candidates
	}

	switch strings.TrimSpace(strategy.Name) {
	case StrategyFixed:
		return strategy.Owner, nil
	case StrategyRoundRobin:
		return r.roundRobin(req.PipelineID, req.StageID, candidates)
	case StrategyLeastLoaded:
		return r.leastLoaded(ctx, req.Tenant, candidates)
	case StrategyManagerOf:
		return r.managerOf(ctx, req.Tenant, req.CurrentOwnerID)
	default:
		// Validate covered this; kept for exhaustiveness
		return "", pipeline.CloneError(pipeline.ErrUnknownStrategy, "", nil, map[string]any{"strategy": strategy.Name})
	}
}

func (r *Resolver) roundRobin(pipelineID, stageID string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", noTarget("round_robin has no candidates")
	}
	key := pipeline.NormalizeID(pipelineID) + "::" + pipeline.NormalizeID(stageID)

	r.mu.Lock()
	defer r.mu.Unlock()
	cursor := r.cursors[key]
	owner := candidates[cursor%len(candidates)]
	r.cursors[key] = (cursor + 1) % len(candidates)
	return owner, nil
}

func (r *Resolver) leastLoaded(ctx context.Context, tenant string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", noTarget("least_loaded has no candidates")
	}
	if r.entities == nil {
		return "", pipeline.CloneError(pipeline.ErrBadDefinition, "least_loaded requires an entity store", nil, nil)
	}

	// id-ascending iteration makes tie-breaking deterministic
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	best := ""
	bestLoad := -1
	for _, candidate := range sorted {
		load, err := r.entities.CountActiveOwned(ctx, tenant, candidate)
		if err != nil {
			return "", err
		}
		if bestLoad < 0 || load < bestLoad {
			best = candidate
			bestLoad = load
		}
	}
	return best, nil
}

func (r *Resolver) managerOf(ctx context.Context, tenant, ownerID string) (string, error) {
	if r.org == nil {
		return "", pipeline.CloneError(pipeline.ErrBadDefinition, "manager_of requires an org lookup", nil, nil)
	}
	if strings.TrimSpace(ownerID) == "" {
		return "", noTarget("manager_of has no current owner")
	}
	manager, err := r.org.ManagerOf(ctx, tenant, ownerID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(manager) == "" {
		return "", noTarget(fmt.Sprintf("no manager for owner %s", ownerID))
	}
	return manager, nil
}

// IsNoTarget reports whether err is an unresolved-target outcome.
func IsNoTarget(err error) bool {
	return pipeline.IsCode(err, ErrCodeNoTarget)
}

func noTarget(msg string) error {
	return pipeline.CloneError(ErrNoTarget, msg, nil, nil)
}
