package federation

import (
	"slices"

	"github.com/ephedra/ephedra/pkg/query/algebra"
)

// IsSingleOwner reports whether q can be answered by the default member of conn
// on its own. SERVICE clauses, member sub-plans and extension aggregates always
// take the federated path, even when a SERVICE names the default repository.
func IsSingleOwner(q *algebra.Query, conn *Connection) bool {
	if conn == nil || conn.isClosed() || conn.Default() == nil {
		return false
	}
	return !algebra.Any(q.Root, federated)
}

func federated(n algebra.Node) bool {
	switch n.(type) {
	case *algebra.Service, *algebra.Owned, *algebra.AggregateCall:
		return true
	}
	return false
}

// plan rewrites root for federated evaluation. SERVICE clauses that name a member
// become Owned sub-plans of that member. In every join, the arguments owned by the
// same member are grouped so that each member receives a single sub-query, the
// arguments reading only default data are owned by the default member, and
// members with mandatory inputs follow the arguments binding them. The input
// tree is shared, never modified.
func plan(root algebra.TupleExpr, view *catalogView) algebra.TupleExpr {
	return planFor(root, view, view.defaultID)
}

// planFor plans t for a scope whose plain patterns are read from home.
func planFor(t algebra.TupleExpr, view *catalogView, home string) algebra.TupleExpr {
	if n, ok := t.(*algebra.Service); ok {
		id, ok := serviceMember(n, view)
		if !ok {
			// resolved at evaluation time, body and all
			return n
		}
		return planService(n, view, id)
	}

	t = mapChildren(t, func(c algebra.TupleExpr) algebra.TupleExpr {
		return planFor(c, view, home)
	})
	if j, ok := t.(*algebra.Join); ok {
		return groupJoin(j, home, view)
	}
	return t
}

func serviceMember(n *algebra.Service, view *catalogView) (string, bool) {
	if n.Silent || !n.Ref.IsConst() || !n.Ref.Value.IsIRI() {
		return "", false
	}
	id, ok := view.services[n.Ref.Value.Value]
	return id, ok
}

// planService assigns the body of a SERVICE clause to member id. A body that
// addresses further services cannot be sent whole: its plain patterns become
// sub-plans of id and the nested clauses are planned for their own members.
func planService(n *algebra.Service, view *catalogView, id string) algebra.TupleExpr {
	if !algebra.Any(n.Arg, nestedService) {
		return &algebra.Owned{Member: id, Arg: n.Arg}
	}
	return ownPatterns(planFor(n.Arg, view, id), id)
}

func nestedService(n algebra.Node) bool {
	switch n.(type) {
	case *algebra.Service, *algebra.Owned:
		return true
	}
	return false
}

// ownPatterns makes the statement patterns of t that are not yet assigned to a
// member sub-plans of id.
func ownPatterns(t algebra.TupleExpr, id string) algebra.TupleExpr {
	switch n := t.(type) {
	case *algebra.Owned, *algebra.Service:
		return t
	case *algebra.StatementPattern:
		return &algebra.Owned{Member: id, Arg: n}
	}
	return mapChildren(t, func(c algebra.TupleExpr) algebra.TupleExpr {
		return ownPatterns(c, id)
	})
}

// mapChildren returns t with fn applied to its children. t itself is returned
// when no child changes.
func mapChildren(t algebra.TupleExpr, fn func(algebra.TupleExpr) algebra.TupleExpr) algebra.TupleExpr {
	children := algebra.Children(t)
	var replaced []algebra.TupleExpr
	for i, c := range children {
		nc := fn(c)
		if nc != c && replaced == nil {
			replaced = slices.Clone(children)
		}
		if replaced != nil {
			replaced[i] = nc
		}
	}
	if replaced == nil {
		return t
	}
	return algebra.WithChildren(t, replaced)
}

func groupJoin(j *algebra.Join, home string, view *catalogView) algebra.TupleExpr {
	// slot is one argument of the rewritten join; owner is empty for arguments
	// that mix members and stay as they are.
	type slot struct {
		owner string
		args  []algebra.TupleExpr
	}
	var slots []*slot
	owned := map[string]*slot{}
	add := func(owner string, arg algebra.TupleExpr) {
		if owner != "" {
			if s, ok := owned[owner]; ok {
				s.args = append(s.args, arg)
				return
			}
		}
		s := &slot{owner: owner, args: []algebra.TupleExpr{arg}}
		if owner != "" {
			owned[owner] = s
		}
		slots = append(slots, s)
	}

	for _, arg := range j.Args {
		if o, ok := arg.(*algebra.Owned); ok {
			add(o.Member, o.Arg)
			continue
		}
		if !algebra.Any(arg, federated) {
			add(home, arg)
			continue
		}
		add("", arg)
	}

	args := make([]algebra.TupleExpr, 0, len(slots))
	for _, s := range slots {
		if s.owner == "" {
			args = append(args, s.args[0])
			continue
		}
		args = append(args, &algebra.Owned{Member: s.owner, Arg: algebra.NewJoin(s.args...)})
	}
	return algebra.NewJoin(view.orderByInputs(args)...)
}
