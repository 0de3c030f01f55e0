package federation

import (
	"context"
	"slices"
	"sync"

	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/storage"
)

// Resolver returns the live repository of a member id. *manager.Manager
// implements it.
type Resolver interface {
	Repository(ctx context.Context, id string) (storage.Repository, error)
}

// Member is a repository taking part in the federation. The default member has no
// reference IRI.
type Member struct {
	ID           string
	ReferenceIRI string
}

// catalogView is one resolution of the configured members. It is never modified,
// so connections keep the view they were opened with.
type catalogView struct {
	defaultID string
	// ids holds every member id once, the default first.
	ids   []string
	repos map[string]storage.Repository
	// services maps reference IRIs to member ids.
	services map[string]string
	// inputs holds the mandatory inputs of the members that declare some.
	inputs map[string][]ServiceInput
}

// catalog resolves the members lazily and caches the result until invalidated.
type catalog struct {
	cfg      *Config
	resolver Resolver

	mu   sync.Mutex
	view *catalogView // GUARDED_BY(mu)
	// resolutions counts how often the members were resolved.
	resolutions int // GUARDED_BY(mu)
}

func newCatalog(cfg *Config, resolver Resolver) *catalog {
	return &catalog{cfg: cfg, resolver: resolver}
}

// get returns the current view, resolving the members on first use. Concurrent
// first callers share one resolution.
func (c *catalog) get(ctx context.Context) (*catalogView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view != nil {
		return c.view, nil
	}

	ids := c.cfg.MemberIDs()
	view := &catalogView{
		defaultID: c.cfg.DefaultMember,
		ids:       ids,
		repos:     make(map[string]storage.Repository, len(ids)),
		services:  make(map[string]string, len(c.cfg.Members)),
		inputs:    map[string][]ServiceInput{},
	}
	for _, id := range ids {
		repo, err := c.resolver.Repository(ctx, id)
		if err != nil {
			return nil, memberError(id, "resolve", err)
		}
		view.repos[id] = repo
	}
	for _, m := range c.cfg.Members {
		view.services[m.ReferenceIRI] = m.Delegate
		if len(m.Inputs) > 0 {
			view.inputs[m.Delegate] = append(view.inputs[m.Delegate], m.Inputs...)
		}
	}
	c.view = view
	c.resolutions++
	return view, nil
}

// invalidate drops the current view. Connections already holding it keep using it.
func (c *catalog) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = nil
}

// members lists the configured members, the default first.
func (c *catalog) members() []Member {
	out := []Member{{ID: c.cfg.DefaultMember}}
	for _, m := range c.cfg.Members {
		out = append(out, Member{ID: m.Delegate, ReferenceIRI: m.ReferenceIRI})
	}
	return out
}

// inputVars returns the variables that must be bound before t is evaluated: the
// mandatory inputs of the member sub-plans t is made of.
func (v *catalogView) inputVars(t algebra.TupleExpr) []string {
	var out []string
	algebra.Walk(t, func(n algebra.Node) bool {
		o, ok := n.(*algebra.Owned)
		if !ok {
			return true
		}
		for _, name := range v.memberInputs(o) {
			if !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
		return false
	})
	return out
}

func (v *catalogView) memberInputs(o *algebra.Owned) []string {
	inputs := v.inputs[o.Member]
	if len(inputs) == 0 {
		return nil
	}
	var out []string
	algebra.Walk(o.Arg, func(n algebra.Node) bool {
		sp, ok := n.(*algebra.StatementPattern)
		if !ok {
			return true
		}
		if !sp.Predicate.IsConst() {
			return false
		}
		for _, in := range inputs {
			if sp.Predicate.Value.Value != in.Predicate {
				continue
			}
			pos := sp.Object
			if in.Subject {
				pos = sp.Subject
			}
			if !pos.IsConst() && !slices.Contains(out, pos.Name) {
				out = append(out, pos.Name)
			}
		}
		return false
	})
	return out
}

// satisfies reports whether evaluating order from left to right, starting with
// bound, binds every input before it is needed.
func (v *catalogView) satisfies(order []algebra.TupleExpr, bound []string) bool {
	if len(v.inputs) == 0 {
		return true
	}
	have := slices.Clone(bound)
	for _, arg := range order {
		for _, name := range v.inputVars(arg) {
			if !slices.Contains(have, name) {
				return false
			}
		}
		have = append(have, algebra.BindingNames(arg, true)...)
	}
	return true
}

// orderByInputs moves the arguments with mandatory inputs after the arguments
// that bind them. The others keep their order. When no argument is ready, the
// first remaining one is taken and fails once evaluated.
func (v *catalogView) orderByInputs(args []algebra.TupleExpr) []algebra.TupleExpr {
	if len(v.inputs) == 0 {
		return args
	}
	remaining := slices.Clone(args)
	out := make([]algebra.TupleExpr, 0, len(args))
	var bound []string
	for len(remaining) > 0 {
		next := 0
		for i, arg := range remaining {
			if v.satisfies([]algebra.TupleExpr{arg}, bound) {
				next = i
				break
			}
		}
		arg := remaining[next]
		remaining = slices.Delete(remaining, next, next+1)
		out = append(out, arg)
		bound = append(bound, algebra.BindingNames(arg, true)...)
	}
	return out
}
