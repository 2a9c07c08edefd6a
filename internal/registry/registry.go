// Package registry implements the agent registry (§4.3): a dynamic pool of
// agents spawned, found, and despawned by name or role. Locking and the
// ctx.Done() check on every operation follow registry/store/memory.Store.
package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// AgentID is an opaque, monotonically allocated 64-bit identifier, stable
// for the process lifetime. 1 is reserved for the chief (§3).
type AgentID uint64

// ChiefID is the reserved id of the chief orchestrator agent.
const ChiefID AgentID = 1

// Role is the agent's functional role.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleAnalyst      Role = "analyst"
	RoleCoder        Role = "coder"
	RoleWriter       Role = "writer"
	RoleCritic       Role = "critic"
	RolePlanner      Role = "planner"
	RoleExecutor     Role = "executor"
	RoleMemory       Role = "memory"
)

// WorkState tracks what an agent is currently doing.
type WorkState struct {
	Kind    WorkStateKind
	Partner AgentID // set when Kind == WorkCollaborating
}

// WorkStateKind enumerates work state values.
type WorkStateKind string

const (
	WorkIdle          WorkStateKind = "idle"
	WorkThinking      WorkStateKind = "thinking"
	WorkCollaborating WorkStateKind = "collaborating"
)

// Agent is a registered participant in the orchestration. Identity and role
// are immutable after spawn; IsActive and WorkState mutate over the agent's
// lifetime.
type Agent struct {
	ID                  AgentID
	Name                string // canonical: trimmed, lowercased
	Role                Role
	SystemPrompt        string
	SpecializedContext  string
	IsActive            bool
	WorkState           WorkState
}

// ErrNotFound is returned when a lookup does not resolve.
var ErrNotFound = errors.New("registry: agent not found")

// Registry is the in-memory agent pool. Zero value is not usable; construct
// with New.
type Registry struct {
	mu       sync.Mutex
	byID     map[AgentID]*Agent
	byName   map[string]AgentID // canonical lowercase name -> id
	nextID   AgentID
	builtins map[string]Role // name -> role override from loaded definitions
	keywords map[string][]string // keyword -> preferred agent names, insertion order
}

// New constructs an empty Registry. The chief is not auto-spawned; callers
// spawn it explicitly with role RoleOrchestrator and name "chief" so that it
// receives AgentID 1 via the normal allocation path.
func New() *Registry {
	return &Registry{
		byID:     make(map[AgentID]*Agent),
		byName:   make(map[string]AgentID),
		builtins: make(map[string]Role),
		keywords: make(map[string][]string),
	}
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Spawn creates (or returns the existing) agent by name. Spawn is idempotent
// by canonical (trimmed, lowercased) name: a second spawn with the same name
// returns the first instance, ignoring role/context on the second call
// (§4.3 invariant). If name matches a loaded built-in definition, role is
// overridden to the definition's role.
func (r *Registry) Spawn(ctx context.Context, role Role, name, specializedContext string) (*Agent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	cname := canonical(name)
	if cname == "" {
		return nil, errors.New("registry: agent name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[cname]; ok {
		return r.byID[id], nil
	}

	if builtinRole, ok := r.builtins[cname]; ok {
		role = builtinRole
	}

	r.nextID++
	id := r.nextID
	if id == 0 { // skip 0; 1 is reserved for the chief by convention, not enforced here
		r.nextID++
		id = r.nextID
	}
	a := &Agent{
		ID:                 id,
		Name:               cname,
		Role:               role,
		SpecializedContext: specializedContext,
		IsActive:           true,
		WorkState:          WorkState{Kind: WorkIdle},
	}
	r.byID[id] = a
	r.byName[cname] = id
	return a, nil
}

// FindByID returns the agent with the given id.
func (r *Registry) FindByID(ctx context.Context, id AgentID) (*Agent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// FindByName returns the single active agent with the given canonical name.
func (r *Registry) FindByName(ctx context.Context, name string) (*Agent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[canonical(name)]
	if !ok || !r.byID[id].IsActive {
		return nil, ErrNotFound
	}
	return r.byID[id], nil
}

// FindByRole returns the first active agent with the given role, in
// ascending id order.
func (r *Registry) FindByRole(ctx context.Context, role Role) (*Agent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Agent
	for _, a := range r.byID {
		if !a.IsActive || a.Role != role {
			continue
		}
		if best == nil || a.ID < best.ID {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// Despawn deactivates an agent. The chief is never despawned by normal
// operation; callers are responsible for honoring that (§3 "chief ... never
// destroyed").
func (r *Registry) Despawn(ctx context.Context, id AgentID) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.IsActive = false
	return nil
}

// SetWorkState updates an agent's work state under the registry lock, the
// safe way to flip `thinking`/`idle` from concurrent fan-out workers (§4.5.4).
func (r *Registry) SetWorkState(ctx context.Context, id AgentID, state WorkState) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.WorkState = state
	return nil
}

// ActiveIDs returns the ids of all currently active agents, used by the
// message bus to resolve broadcasts.
func (r *Registry) ActiveIDs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(r.byID))
	for id, a := range r.byID {
		if a.IsActive {
			ids = append(ids, uint64(id))
		}
	}
	return ids
}

// RegisterBuiltin records a name -> role override applied on future Spawn
// calls, the effect LoadDefinitions has for each parsed descriptor.
func (r *Registry) RegisterBuiltin(name string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[canonical(name)] = role
}

// RegisterKeywords associates a keyword with a preferred agent name for
// SelectForTask's routing table.
func (r *Registry) RegisterKeywords(keyword string, agentNames ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(keyword)
	r.keywords[key] = append(r.keywords[key], agentNames...)
}

// SelectForTask returns the deduplicated, spawn-if-missing list of preferred
// agents for a task description, resolved by scanning the description for
// registered keywords (§4.3 "keyword -> preferred agent list; spawns missing
// entries; deduplicates").
func (r *Registry) SelectForTask(ctx context.Context, description string, defaultRole Role) ([]*Agent, error) {
	lower := strings.ToLower(description)

	r.mu.Lock()
	var names []string
	for keyword, preferred := range r.keywords {
		if strings.Contains(lower, keyword) {
			names = append(names, preferred...)
		}
	}
	r.mu.Unlock()

	seen := make(map[string]bool, len(names))
	var out []*Agent
	for _, name := range names {
		cname := canonical(name)
		if seen[cname] {
			continue
		}
		seen[cname] = true
		a, err := r.Spawn(ctx, defaultRole, cname, "")
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
