package federation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/query/eval"
	"github.com/ephedra/ephedra/pkg/query/sparql"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
)

var algorithms = map[Algorithm]JoinFlags{
	AlgorithmNested:        {},
	AlgorithmBound:         {Bound: true},
	AlgorithmAsyncParallel: {AsyncParallel: true},
	AlgorithmCompeting:     {Competing: true},
}

const crossMemberJoin = `SELECT ?p ?age ?city WHERE {
	?p ex:knows ?q .
	SERVICE <` + peopleService + `> { ?p ex:age ?age }
	SERVICE <` + placesService + `> { ?p ex:livesIn ?city }
}`

func TestJoinAlgorithms(t *testing.T) {
	for _, tc := range []struct {
		name     string
		query    string
		joins    bool
		expected []rdf.Solution
	}{
		{
			name:  "join_across_members",
			query: crossMemberJoin,
			joins: true,
			expected: []rdf.Solution{
				rdf.NewSolution("p", iri("alice"), "age", rdf.NewInteger(30), "city", iri("paris")),
				rdf.NewSolution("p", iri("bob"), "age", rdf.NewInteger(25), "city", iri("rome")),
			},
		},
		{
			name: "optional_member",
			query: `SELECT ?p ?city WHERE {
				?p ex:knows ?q .
				OPTIONAL { SERVICE <` + placesService + `> { ?p ex:livesIn ?city } }
			}`,
			expected: []rdf.Solution{
				rdf.NewSolution("p", iri("alice"), "city", iri("paris")),
				rdf.NewSolution("p", iri("bob"), "city", iri("rome")),
				rdf.NewSolution("p", iri("carol")),
			},
		},
		{
			name: "filter_over_member_values",
			query: `SELECT ?p WHERE {
				?p ex:knows ?q .
				SERVICE <` + peopleService + `> { ?q ex:age ?age }
				FILTER(?age > 26)
			}`,
			joins: true,
			expected: []rdf.Solution{
				rdf.NewSolution("p", iri("bob")),
				rdf.NewSolution("p", iri("carol")),
			},
		},
		{
			name: "bag_semantics",
			query: `SELECT ?age WHERE {
				?p ex:knows ?q .
				SERVICE <` + peopleService + `> { ?x ex:age ?age FILTER(?age < 30) }
			}`,
			expected: []rdf.Solution{
				rdf.NewSolution("age", rdf.NewInteger(25)),
				rdf.NewSolution("age", rdf.NewInteger(25)),
				rdf.NewSolution("age", rdf.NewInteger(25)),
			},
		},
		{
			name: "nested_service",
			query: `SELECT ?p ?age ?city WHERE {
				SERVICE <` + peopleService + `> {
					?p ex:age ?age .
					SERVICE <` + placesService + `> { ?p ex:livesIn ?city }
				}
			}`,
			joins: true,
			expected: []rdf.Solution{
				rdf.NewSolution("p", iri("alice"), "age", rdf.NewInteger(30), "city", iri("paris")),
				rdf.NewSolution("p", iri("bob"), "age", rdf.NewInteger(25), "city", iri("rome")),
			},
		},
		{
			name: "nested_optional_service",
			query: `SELECT ?p ?age ?city WHERE {
				?p ex:name ?n .
				SERVICE <` + peopleService + `> {
					?p ex:age ?age
					OPTIONAL { SERVICE <` + placesService + `> { ?p ex:livesIn ?city } }
				}
			}`,
			expected: []rdf.Solution{
				rdf.NewSolution("p", iri("alice"), "age", rdf.NewInteger(30), "city", iri("paris")),
			},
		},
		{
			name:  "ordered_and_sliced",
			query: `SELECT ?p ?age WHERE { ?p ex:knows ?q . SERVICE <` + peopleService + `> { ?p ex:age ?age } } ORDER BY DESC(?age) LIMIT 2`,
			expected: []rdf.Solution{
				rdf.NewSolution("p", iri("carol"), "age", rdf.NewInteger(41)),
				rdf.NewSolution("p", iri("alice"), "age", rdf.NewInteger(30)),
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for algorithm, flags := range algorithms {
				t.Run(string(algorithm), func(t *testing.T) {
					cfg := testConfig()
					cfg.Joins = flags
					f := newFederation(t, cfg, testRepos(t))
					conn := connect(t, f)

					joins := testutil.ToFloat64(joinAlgorithmCounter.WithLabelValues(string(algorithm)))
					rows := selectRows(t, conn, tc.query)
					require.Empty(t, cmp.Diff(tc.expected, rows, sortSolutions))
					if tc.joins {
						require.Greater(t, testutil.ToFloat64(joinAlgorithmCounter.WithLabelValues(string(algorithm))), joins)
					}
					require.Zero(t, f.Pool().Active())
				})
			}
		})
	}
}

func TestJoinAlgorithmsAgree(t *testing.T) {
	queries := []string{
		`SELECT * WHERE { ?s ex:p ?o . SERVICE <` + peopleService + `> { ?o ex:q ?v } }`,
		`SELECT * WHERE { ?s ex:p ?o OPTIONAL { SERVICE <` + peopleService + `> { ?o ex:q ?v } } }`,
		`SELECT * WHERE { ?s ex:p ?o . SERVICE <` + peopleService + `> { ?o ex:q ?v } . ?s ex:p ?o2 }`,
	}
	node := func(prefix string) *rapid.Generator[rdf.Term] {
		return rapid.Custom(func(rt *rapid.T) rdf.Term {
			return iri(fmt.Sprintf("%s%d", prefix, rapid.IntRange(0, 4).Draw(rt, prefix)))
		})
	}

	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		local := rapid.SliceOfN(rapid.Custom(func(rt *rapid.T) rdf.Triple {
			return rdf.NewTriple(node("s").Draw(rt, "subject"), iri("p"), node("o").Draw(rt, "object"))
		}), 0, 12).Draw(rt, "local")
		remote := rapid.SliceOfN(rapid.Custom(func(rt *rapid.T) rdf.Triple {
			return rdf.NewTriple(node("o").Draw(rt, "subject"), iri("q"), node("v").Draw(rt, "object"))
		}), 0, 12).Draw(rt, "remote")
		batch := rapid.IntRange(1, 4).Draw(rt, "batch")
		query := prologue + rapid.SampledFrom(queries).Draw(rt, "query")

		resolver := repos{
			"local":  memoryRepo(t, "local", local...),
			"people": memoryRepo(t, "people", remote...),
			"places": memoryRepo(t, "places"),
		}
		cfg := testConfig()
		cfg.BoundJoinBatchSize = batch
		f, err := New(cfg, resolver)
		require.NoError(rt, err)
		defer f.Shutdown(ctx)

		results := map[Algorithm][]rdf.Solution{}
		for algorithm, flags := range algorithms {
			f.SetJoinFlags(flags)
			conn, err := f.OpenConnection(ctx)
			require.NoError(rt, err)
			res, err := conn.Query(ctx, query)
			require.NoError(rt, err)
			rows, err := iterator.Collect(ctx, res.Solutions)
			require.NoError(rt, err)
			res.Close()
			require.NoError(rt, conn.Close())
			results[algorithm] = rows
		}
		for algorithm, rows := range results {
			if diff := cmp.Diff(results[AlgorithmNested], rows, sortSolutions); diff != "" {
				rt.Fatalf("%s differs from nested loops (-nested +%s):\n%s", algorithm, algorithm, diff)
			}
		}
	})
}

// recordingRepo counts the sub-queries its connections evaluate.
type recordingRepo struct {
	storage.Repository
	evaluations atomic.Int64
}

func (r *recordingRepo) Connect(ctx context.Context) (storage.Connection, error) {
	conn, err := r.Repository.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingConn{Connection: conn, repo: r}, nil
}

type recordingConn struct {
	storage.Connection
	repo *recordingRepo
}

func (c *recordingConn) Evaluate(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	c.repo.evaluations.Add(1)
	return c.Connection.Evaluate(ctx, expr, bindings)
}

func TestBoundJoinBatches(t *testing.T) {
	for _, tc := range []struct {
		batch    int
		requests int64
	}{
		{batch: 1, requests: 3},
		{batch: 2, requests: 2},
		{batch: 15, requests: 1},
	} {
		t.Run(fmt.Sprint(tc.batch), func(t *testing.T) {
			resolver := testRepos(t)
			people := &recordingRepo{Repository: resolver["people"]}
			resolver["people"] = people

			cfg := testConfig()
			cfg.Joins = JoinFlags{Bound: true}
			cfg.BoundJoinBatchSize = tc.batch
			conn := connect(t, newFederation(t, cfg, resolver))

			rows := selectRows(t, conn, `SELECT ?p ?age WHERE { ?p ex:knows ?q . SERVICE <`+peopleService+`> { ?p ex:age ?age } }`)
			require.Len(t, rows, 3)
			for _, row := range rows {
				require.False(t, row.Has(rowVar))
			}
			require.Equal(t, tc.requests, people.evaluations.Load())
		})
	}
}

func TestAsyncJoinSharesProbes(t *testing.T) {
	resolver := testRepos(t)
	people := &recordingRepo{Repository: resolver["people"]}
	resolver["people"] = people

	cfg := testConfig()
	cfg.Joins = JoinFlags{AsyncParallel: true}
	conn := connect(t, newFederation(t, cfg, resolver))

	// every ?p knows someone, but the member only sees ?x
	rows := selectRows(t, conn, `SELECT ?p ?x WHERE { ?p ex:knows ?q . SERVICE <`+peopleService+`> { ?x ex:age 41 } }`)
	require.Len(t, rows, 3)
	require.Equal(t, int64(1), people.evaluations.Load())
}

// stalledRepo is a member whose results never arrive.
type stalledRepo struct{ id string }

func (r stalledRepo) ID() string { return r.id }

func (r stalledRepo) Connect(context.Context) (storage.Connection, error) {
	return stalledConn{}, nil
}

type stalledConn struct{}

func (stalledConn) Statements(context.Context, rdf.Term, rdf.Term, rdf.Term) (storage.TripleIterator, error) {
	return blocked[rdf.Triple]{}, nil
}

func (stalledConn) Evaluate(context.Context, algebra.TupleExpr, rdf.Solution) (storage.SolutionIterator, error) {
	return blocked[rdf.Solution]{}, nil
}

func (stalledConn) Query(context.Context, string) (*storage.QueryResult, error) {
	return storage.NewSolutionsResult(nil, blocked[rdf.Solution]{}), nil
}

func (stalledConn) Close() error { return nil }

type blocked[T any] struct{}

func (blocked[T]) Next(ctx context.Context) (T, error) {
	var zero T
	<-ctx.Done()
	return zero, ctx.Err()
}

func (blocked[T]) Stop() {}

// failingRepo is a member that rejects every sub-query.
type failingRepo struct {
	id  string
	err error
}

func (r failingRepo) ID() string { return r.id }

func (r failingRepo) Connect(context.Context) (storage.Connection, error) {
	return failingConn{err: r.err}, nil
}

type failingConn struct {
	stalledConn
	err error
}

func (c failingConn) Evaluate(context.Context, algebra.TupleExpr, rdf.Solution) (storage.SolutionIterator, error) {
	return nil, c.err
}

func TestCancellationStopsMemberTasks(t *testing.T) {
	for _, algorithm := range []Algorithm{AlgorithmAsyncParallel, AlgorithmCompeting} {
		t.Run(string(algorithm), func(t *testing.T) {
			resolver := testRepos(t)
			resolver["people"] = stalledRepo{id: "people"}
			cfg := testConfig()
			cfg.Joins = algorithms[algorithm]
			f := newFederation(t, cfg, resolver)
			conn := connect(t, f)

			ctx, cancel := context.WithCancel(context.Background())
			res, err := conn.Query(ctx, prologue+crossMemberJoin)
			require.NoError(t, err)

			next, stop := context.WithTimeout(ctx, 50*time.Millisecond)
			_, err = res.Solutions.Next(next)
			stop()
			require.ErrorIs(t, err, context.DeadlineExceeded)

			cancel()
			res.Close()
			require.Zero(t, f.Pool().Active())
		})
	}
}

func TestMemberFailureFailsFast(t *testing.T) {
	boom := errors.New("boom")
	for algorithm, flags := range algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			resolver := testRepos(t)
			resolver["places"] = failingRepo{id: "places", err: boom}
			cfg := testConfig()
			cfg.Joins = flags
			f := newFederation(t, cfg, resolver)
			conn := connect(t, f)

			failures := testutil.ToFloat64(memberQueryCounter.WithLabelValues("places", "error"))
			err := queryErr(context.Background(), conn, crossMemberJoin)
			require.ErrorIs(t, err, boom)
			require.ErrorIs(t, err, ErrMemberUnavailable)
			var me *MemberError
			require.ErrorAs(t, err, &me)
			require.Equal(t, "places", me.MemberID)
			require.Greater(t, testutil.ToFloat64(memberQueryCounter.WithLabelValues("places", "error")), failures)
			require.Zero(t, f.Pool().Active())
		})
	}
}

func TestQueryTimeout(t *testing.T) {
	for algorithm, flags := range algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			resolver := testRepos(t)
			resolver["places"] = stalledRepo{id: "places"}
			cfg := testConfig()
			cfg.Joins = flags
			cfg.MaxExecutionTime = 100 * time.Millisecond
			f := newFederation(t, cfg, resolver)
			conn := connect(t, f)

			start := time.Now()
			err := queryErr(context.Background(), conn, crossMemberJoin)
			require.ErrorIs(t, err, ErrQueryTimeout)
			require.Less(t, time.Since(start), 5*time.Second)
			require.Zero(t, f.Pool().Active())
		})
	}
}

// slowRepo delays every sub-query sent to it.
type slowRepo struct {
	storage.Repository
	delay time.Duration
}

func (r slowRepo) Connect(ctx context.Context) (storage.Connection, error) {
	conn, err := r.Repository.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return slowConn{Connection: conn, delay: r.delay}, nil
}

type slowConn struct {
	storage.Connection
	delay time.Duration
}

func (c slowConn) Evaluate(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.Connection.Evaluate(ctx, expr, bindings)
}

func TestAsyncJoinReportsTimeoutAfterPartialResults(t *testing.T) {
	ctx := context.Background()
	var knows, ages []rdf.Triple
	for i := 0; i < 200; i++ {
		p := iri("person" + strconv.Itoa(i))
		knows = append(knows, rdf.NewTriple(p, iri("knows"), iri("alice")))
		ages = append(ages, rdf.NewTriple(p, iri("age"), rdf.NewInteger(int64(i))))
	}
	cfg := testConfig()
	cfg.Joins = JoinFlags{AsyncParallel: true}
	cfg.MaxConcurrentProbes = 1
	cfg.MaxExecutionTime = 60 * time.Millisecond
	f := newFederation(t, cfg, repos{
		"local":  memoryRepo(t, "local", knows...),
		"people": slowRepo{Repository: memoryRepo(t, "people", ages...), delay: 20 * time.Millisecond},
		"places": memoryRepo(t, "places"),
	})
	conn := connect(t, f)
	query := prologue + `SELECT ?p ?age WHERE { ?p ex:knows ?q . SERVICE <` + peopleService + `> { ?p ex:age ?age } }`

	t.Run("late_consumer", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			res, err := conn.Query(ctx, query)
			require.NoError(t, err)
			time.Sleep(150 * time.Millisecond)
			rows, err := iterator.Collect(ctx, res.Solutions)
			res.Close()
			require.ErrorIs(t, err, ErrQueryTimeout, "run %d ended with %d rows", i, len(rows))
		}
	})

	t.Run("consumer_without_deadline", func(t *testing.T) {
		q, err := sparql.Parse(query)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			evalCtx, cancel := context.WithTimeoutCause(ctx, 60*time.Millisecond, ErrQueryTimeout)
			s := f.NewStrategy(evalCtx, conn)
			res, err := eval.Run(evalCtx, s, s.Source(), q.WithRoot(plan(q.Root, conn.view)))
			require.NoError(t, err)
			time.Sleep(150 * time.Millisecond)
			_, err = iterator.Collect(ctx, res.Solutions)
			res.Close()
			cancel()
			require.ErrorIs(t, err, ErrQueryTimeout, "run %d", i)
		}
	})

	require.Eventually(t, func() bool { return f.Pool().Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCompetingJoinStreamsTheWinner(t *testing.T) {
	ctx := context.Background()
	const delay = 20 * time.Millisecond
	var knows, ages []rdf.Triple
	for i := 0; i < 50; i++ {
		p := iri("person" + strconv.Itoa(i))
		knows = append(knows, rdf.NewTriple(p, iri("knows"), iri("alice")))
		ages = append(ages, rdf.NewTriple(p, iri("age"), rdf.NewInteger(int64(i))))
	}
	cfg := testConfig()
	cfg.Joins = JoinFlags{Competing: true}
	f := newFederation(t, cfg, repos{
		"local":  slowRepo{Repository: memoryRepo(t, "local", knows...), delay: delay},
		"people": slowRepo{Repository: memoryRepo(t, "people", ages...), delay: delay},
		"places": memoryRepo(t, "places"),
	})
	conn := connect(t, f)

	res, err := conn.Query(ctx, prologue+`SELECT ?p ?age WHERE { ?p ex:knows ?q . SERVICE <`+peopleService+`> { ?p ex:age ?age } }`)
	require.NoError(t, err)
	defer res.Close()

	// either order needs one member request per row to finish
	start := time.Now()
	first, err := res.Solutions.Next(ctx)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 25*delay)
	require.Zero(t, f.Pool().Active())

	rest, err := iterator.Collect(ctx, res.Solutions)
	require.NoError(t, err)
	require.Len(t, append(rest, first), 50)
}

func TestUnknownService(t *testing.T) {
	f := newFederation(t, testConfig(), testRepos(t))
	conn := connect(t, f)

	err := queryErr(context.Background(), conn, `SELECT * WHERE { ?p ex:knows ?q . SERVICE <http://unknown.example/sparql> { ?q ex:age ?age } }`)
	require.ErrorIs(t, err, ErrUnknownService)

	rows := selectRows(t, conn, `SELECT * WHERE { ?p ex:knows ?q . SERVICE SILENT <http://unknown.example/sparql> { ?q ex:age ?age } }`)
	require.Empty(t, cmp.Diff([]rdf.Solution{
		rdf.NewSolution("p", iri("alice"), "q", iri("bob")),
		rdf.NewSolution("p", iri("bob"), "q", iri("carol")),
		rdf.NewSolution("p", iri("carol"), "q", iri("alice")),
	}, rows, sortSolutions))
}

func TestSilentServiceSurvivesMemberFailure(t *testing.T) {
	resolver := testRepos(t)
	resolver["places"] = failingRepo{id: "places", err: errors.New("boom")}
	conn := connect(t, newFederation(t, testConfig(), resolver))

	rows := selectRows(t, conn, `SELECT * WHERE { ?p ex:name ?n . SERVICE SILENT <`+placesService+`> { ?p ex:livesIn ?city } }`)
	require.Empty(t, cmp.Diff([]rdf.Solution{
		rdf.NewSolution("p", iri("alice"), "n", rdf.NewString("Alice")),
	}, rows))
}

func TestMandatoryInputs(t *testing.T) {
	for algorithm, flags := range algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			cfg := testConfig()
			cfg.Joins = flags
			cfg.Members[1].Inputs = []ServiceInput{{Predicate: iri("livesIn").Value, Subject: true}}
			f := newFederation(t, cfg, testRepos(t))
			conn := connect(t, f)

			rows := selectRows(t, conn, `SELECT ?p ?city WHERE {
				SERVICE <`+placesService+`> { ?p ex:livesIn ?city }
				?p ex:name ?n
			}`)
			require.Empty(t, cmp.Diff([]rdf.Solution{
				rdf.NewSolution("p", iri("alice"), "city", iri("paris")),
			}, rows))

			err := queryErr(context.Background(), conn, `SELECT * WHERE { SERVICE <`+placesService+`> { ?p ex:livesIn ?city } }`)
			require.ErrorIs(t, err, ErrUnboundInput)
			require.ErrorContains(t, err, "?p")
			require.Zero(t, f.Pool().Active())
		})
	}
}

func TestJoinOrders(t *testing.T) {
	a, b, c := &algebra.StatementPattern{}, &algebra.Values{}, &algebra.Slice{}
	require.Equal(t, [][]algebra.TupleExpr{{a, b}, {b, a}}, joinOrders([]algebra.TupleExpr{a, b}, 3, nil))
	require.Equal(t, [][]algebra.TupleExpr{{a, b, c}, {c, b, a}, {b, c, a}}, joinOrders([]algebra.TupleExpr{a, b, c}, 3, nil))
	require.Len(t, joinOrders([]algebra.TupleExpr{a, b, c}, 1, nil), 1)

	aFirst := func(order []algebra.TupleExpr) bool { return order[0] == a }
	require.Equal(t, [][]algebra.TupleExpr{{c, b, a}, {a, b, c}, {a, c, b}}, joinOrders([]algebra.TupleExpr{c, b, a}, 3, aFirst))
	none := func([]algebra.TupleExpr) bool { return false }
	require.Equal(t, [][]algebra.TupleExpr{{a, b, c}}, joinOrders([]algebra.TupleExpr{a, b, c}, 3, none))
}
