package federation

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/ephedra/ephedra/internal/concurrency"
	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
)

// rowVar numbers the rows of a bound join batch so member results can be
// matched to the left solution they extend.
const rowVar = "_ephedra_row"

// boundJoin joins left with o by sending batches of left solutions to o's member
// as a VALUES block, one request per batch.
func (s *Strategy) boundJoin(left storage.SolutionIterator, o *algebra.Owned) storage.SolutionIterator {
	return &boundJoinIterator{
		s:     s,
		left:  left,
		owned: o,
		names: algebra.BindingNames(o.Arg, true),
	}
}

type boundJoinIterator struct {
	s     *Strategy
	left  storage.SolutionIterator
	owned *algebra.Owned
	names []string

	batch    []rdf.Solution
	current  storage.SolutionIterator
	leftDone bool
	stopped  bool
}

func (b *boundJoinIterator) Next(ctx context.Context) (rdf.Solution, error) {
	for {
		if b.stopped {
			return nil, storage.ErrIteratorDone
		}
		if b.current != nil {
			r, err := b.current.Next(ctx)
			if errors.Is(err, storage.ErrIteratorDone) {
				b.current.Stop()
				b.current = nil
				continue
			}
			if err != nil {
				return nil, err
			}
			if sol, ok := b.match(r); ok {
				return sol, nil
			}
			continue
		}
		if b.leftDone {
			return nil, storage.ErrIteratorDone
		}

		b.batch = b.batch[:0]
		for len(b.batch) < b.s.batchSize {
			l, err := b.left.Next(ctx)
			if errors.Is(err, storage.ErrIteratorDone) {
				b.leftDone = true
				break
			}
			if err != nil {
				return nil, err
			}
			b.batch = append(b.batch, l)
		}
		if len(b.batch) == 0 {
			return nil, storage.ErrIteratorDone
		}

		it, err := b.send(ctx)
		if err != nil {
			return nil, err
		}
		b.current = it
	}
}

func (b *boundJoinIterator) send(ctx context.Context) (storage.SolutionIterator, error) {
	for _, l := range b.batch {
		if err := b.s.checkInputs(b.owned, l); err != nil {
			return nil, err
		}
	}
	conn, err := b.s.member(b.owned.Member)
	if err != nil {
		return nil, err
	}
	values := &algebra.Values{Vars: append([]string{rowVar}, b.names...)}
	for i, l := range b.batch {
		row := make([]rdf.Term, 0, len(values.Vars))
		row = append(row, rdf.NewInteger(int64(i)))
		for _, name := range b.names {
			row = append(row, l.Get(name))
		}
		values.Rows = append(values.Rows, row)
	}
	expr := &algebra.Join{Args: []algebra.TupleExpr{values, b.owned.Arg}}
	return b.s.sendToMember(ctx, b.owned.Member, conn, expr, rdf.Solution{})
}

// match merges a member result with the left solution of its row.
func (b *boundJoinIterator) match(r rdf.Solution) (rdf.Solution, bool) {
	i, err := strconv.Atoi(r.Get(rowVar).Value)
	if err != nil || i < 0 || i >= len(b.batch) {
		return nil, false
	}
	stripped := make(rdf.Solution, len(r))
	for k, v := range r {
		if k != rowVar {
			stripped[k] = v
		}
	}
	return b.batch[i].Merge(stripped)
}

func (b *boundJoinIterator) Stop() {
	if b.stopped {
		return
	}
	b.stopped = true
	if b.current != nil {
		b.current.Stop()
	}
	b.left.Stop()
}

// asyncJoin joins left with right by evaluating right once for every distinct
// left solution, concurrently on the worker pool. Results arrive in completion
// order. Stop cancels the outstanding probes and waits for them.
func (s *Strategy) asyncJoin(left storage.SolutionIterator, right algebra.TupleExpr) storage.SolutionIterator {
	ctx, cancel := context.WithCancel(s.ctx)
	out := make(chan iterator.ValueMsg[rdf.Solution], s.maxProbes)
	p := &prober{
		s:     s,
		right: right,
		names: algebra.BindingNames(right, true),
		cache: map[string][]rdf.Solution{},
	}
	sem := semaphore.NewWeighted(int64(s.maxProbes))

	// failure is the first error the join ended with. It is set before out is
	// closed, so readers that saw the close may read it.
	var (
		failOnce sync.Once
		failure  error
	)

	task, err := s.pool.Go(ctx, "async-join", func(ctx context.Context) error {
		var probes sync.WaitGroup
		defer func() {
			probes.Wait()
			close(out)
		}()
		defer left.Stop()

		// fail records err and cancels the join. When ctx has ended, its cause is
		// recorded instead: a send of err would be refused.
		fail := func(err error) error {
			if ctx.Err() != nil {
				err = context.Cause(ctx)
			}
			failOnce.Do(func() { failure = err })
			concurrency.TrySendThroughChannel(ctx, iterator.ValueMsg[rdf.Solution]{Err: err}, out)
			cancel()
			return err
		}

		for {
			l, err := left.Next(ctx)
			if errors.Is(err, storage.ErrIteratorDone) {
				return nil
			}
			if err != nil {
				return fail(err)
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return fail(err)
			}
			probes.Add(1)
			_, err = s.pool.Go(ctx, "async-join-probe", func(ctx context.Context) error {
				defer probes.Done()
				defer sem.Release(1)
				rows, err := p.probe(ctx, l)
				if err != nil {
					return fail(err)
				}
				for _, r := range rows {
					merged, ok := l.Merge(r)
					if !ok {
						continue
					}
					if !concurrency.TrySendThroughChannel(ctx, iterator.ValueMsg[rdf.Solution]{Value: merged}, out) {
						return fail(ctx.Err())
					}
				}
				return nil
			})
			if err != nil {
				probes.Done()
				sem.Release(1)
				return fail(err)
			}
		}
	})
	if err != nil {
		cancel()
		left.Stop()
		return iterator.Error[rdf.Solution](err)
	}

	return iterator.FromChannelWithCause(out, func() {
		cancel()
		<-task.Done()
	}, func() error {
		return failure
	})
}

// prober evaluates the right side of an async join. Left solutions that agree on
// the variables of the right side share one evaluation.
type prober struct {
	s     *Strategy
	right algebra.TupleExpr
	names []string
	group singleflight.Group

	mu    sync.Mutex
	cache map[string][]rdf.Solution // GUARDED_BY(mu)
}

func (p *prober) probe(ctx context.Context, l rdf.Solution) ([]rdf.Solution, error) {
	in := l.Project(p.names)
	key := in.String()

	p.mu.Lock()
	rows, ok := p.cache[key]
	p.mu.Unlock()
	if ok {
		return rows, nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		p.mu.Lock()
		rows, ok := p.cache[key]
		p.mu.Unlock()
		if ok {
			return rows, nil
		}
		it, err := p.s.Evaluate(ctx, p.right, in)
		if err != nil {
			return nil, err
		}
		rows, err = iterator.Collect(ctx, it)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[key] = rows
		p.mu.Unlock()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]rdf.Solution), nil
}

// competingJoin evaluates several join orders of args concurrently. The first
// order to produce a solution, or to finish without one, wins and is streamed.
// The others are cancelled and awaited before the first solution is returned.
func (s *Strategy) competingJoin(args []algebra.TupleExpr, bindings rdf.Solution) storage.SolutionIterator {
	return iterator.Lazy(func(callCtx context.Context) (storage.SolutionIterator, error) {
		ctx := s.ctx

		type outcome struct {
			plan  int
			first rdf.Solution
			iter  storage.SolutionIterator
			err   error
		}
		bound := bindings.Names()
		orders := joinOrders(args, s.maxPlans, func(order []algebra.TupleExpr) bool {
			return s.conn.view.satisfies(order, bound)
		})
		results := make(chan outcome, len(orders))
		cancels := make([]context.CancelFunc, 0, len(orders))
		var tasks []<-chan struct{}

		// settle cancels every plan but keep, waits for all of them and stops
		// the iterators of the others.
		settle := func(keep int) {
			for i, cancel := range cancels {
				if i != keep {
					cancel()
				}
			}
			waitAll(tasks)
			close(results)
			for o := range results {
				if o.plan != keep && o.iter != nil {
					o.iter.Stop()
				}
			}
		}

		for i, order := range orders {
			// the plan's iterators outlive its task when it wins
			planCtx, cancel := context.WithCancel(ctx)
			cancels = append(cancels, cancel)
			task, err := s.pool.Go(planCtx, "competing-join", func(taskCtx context.Context) error {
				it, err := s.eval.NestedLoopJoin(planCtx, order, bindings)
				if err != nil {
					results <- outcome{plan: i, err: err}
					return err
				}
				first, err := it.Next(taskCtx)
				results <- outcome{plan: i, first: first, iter: it, err: err}
				if errors.Is(err, storage.ErrIteratorDone) {
					return nil
				}
				return err
			})
			if err != nil {
				settle(-1)
				return nil, err
			}
			tasks = append(tasks, task.Done())
		}

		var winner outcome
		select {
		case winner = <-results:
		case <-callCtx.Done():
			winner = outcome{plan: -1, err: callCtx.Err()}
		}
		settle(winner.plan)

		switch {
		case errors.Is(winner.err, storage.ErrIteratorDone):
			winner.iter.Stop()
			cancels[winner.plan]()
			return storage.NewStaticIterator[rdf.Solution](), nil
		case winner.err != nil:
			if winner.iter != nil {
				winner.iter.Stop()
			}
			if winner.plan >= 0 {
				cancels[winner.plan]()
			}
			return nil, winner.err
		}
		return &wonPlan{first: winner.first, pending: true, iter: winner.iter, cancel: cancels[winner.plan]}, nil
	})
}

// wonPlan streams the plan that won a competing join, starting with the solution
// it won with.
type wonPlan struct {
	first   rdf.Solution
	pending bool
	iter    storage.SolutionIterator
	cancel  context.CancelFunc
	once    sync.Once
}

func (w *wonPlan) Next(ctx context.Context) (rdf.Solution, error) {
	if w.pending {
		w.pending = false
		return w.first, nil
	}
	return w.iter.Next(ctx)
}

func (w *wonPlan) Stop() {
	w.once.Do(func() {
		w.iter.Stop()
		w.cancel()
	})
}

func waitAll(done []<-chan struct{}) {
	for _, d := range done {
		<-d
	}
}

// joinOrders returns up to n distinct orders of args: as written, reversed, then
// rotations. Orders after the first are only taken when keep accepts them.
func joinOrders(args []algebra.TupleExpr, n int, keep func([]algebra.TupleExpr) bool) [][]algebra.TupleExpr {
	orders := [][]algebra.TupleExpr{args}
	reversed := slices.Clone(args)
	slices.Reverse(reversed)
	candidates := [][]algebra.TupleExpr{reversed}
	for k := 1; k < len(args); k++ {
		candidates = append(candidates, append(slices.Clone(args[k:]), args[:k]...))
	}
	for _, c := range candidates {
		if len(orders) >= n {
			break
		}
		if slices.ContainsFunc(orders, func(o []algebra.TupleExpr) bool { return slices.Equal(o, c) }) {
			continue
		}
		if keep == nil || keep(c) {
			orders = append(orders, c)
		}
	}
	return orders
}
