package federation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/internal/mocks"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	ex            = "http://example.com/"
	prologue      = "PREFIX ex: <" + ex + ">\n"
	peopleService = "http://people.example/sparql"
	placesService = "http://places.example/sparql"
)

func iri(local string) rdf.Term { return rdf.NewIRI(ex + local) }

var sortSolutions = cmpopts.SortSlices(func(a, b rdf.Solution) bool { return a.String() < b.String() })

// repos resolves members from a fixed map.
type repos map[string]storage.Repository

func (r repos) Repository(_ context.Context, id string) (storage.Repository, error) {
	repo, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("repository %q: %w", id, storage.ErrNotFound)
	}
	return repo, nil
}

func memoryRepo(t *testing.T, id string, triples ...rdf.Triple) *memory.Repository {
	t.Helper()
	repo := memory.New(id)
	require.NoError(t, repo.Load(context.Background(), triples))
	return repo
}

func testRepos(t *testing.T) repos {
	return repos{
		"local": memoryRepo(t, "local",
			rdf.NewTriple(iri("alice"), iri("knows"), iri("bob")),
			rdf.NewTriple(iri("bob"), iri("knows"), iri("carol")),
			rdf.NewTriple(iri("carol"), iri("knows"), iri("alice")),
			rdf.NewTriple(iri("alice"), iri("name"), rdf.NewString("Alice")),
		),
		"people": memoryRepo(t, "people",
			rdf.NewTriple(iri("alice"), iri("age"), rdf.NewInteger(30)),
			rdf.NewTriple(iri("bob"), iri("age"), rdf.NewInteger(25)),
			rdf.NewTriple(iri("carol"), iri("age"), rdf.NewInteger(41)),
		),
		"places": memoryRepo(t, "places",
			rdf.NewTriple(iri("alice"), iri("livesIn"), iri("paris")),
			rdf.NewTriple(iri("bob"), iri("livesIn"), iri("rome")),
		),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultMember = "local"
	cfg.Members = []MemberMapping{
		{ReferenceIRI: peopleService, Delegate: "people"},
		{ReferenceIRI: placesService, Delegate: "places"},
	}
	return cfg
}

func newFederation(t *testing.T, cfg Config, resolver Resolver, opts ...Option) *Federation {
	t.Helper()
	f, err := New(cfg, resolver, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.Shutdown(context.Background()))
	})
	return f
}

func connect(t *testing.T, f *Federation) *Connection {
	t.Helper()
	conn, err := f.OpenConnection(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func selectRows(t *testing.T, conn *Connection, query string) []rdf.Solution {
	t.Helper()
	ctx := context.Background()
	res, err := conn.Query(ctx, prologue+query)
	require.NoError(t, err)
	defer res.Close()
	rows, err := iterator.Collect(ctx, res.Solutions)
	require.NoError(t, err)
	return rows
}

// queryErr runs query to completion and returns the first error, whether the
// evaluation or the consumption of its results failed.
func queryErr(ctx context.Context, conn *Connection, query string) error {
	res, err := conn.Query(ctx, prologue+query)
	if err != nil {
		return err
	}
	defer res.Close()
	if res.Solutions == nil {
		return nil
	}
	_, err = iterator.Collect(ctx, res.Solutions)
	return err
}

// countingRepo counts the connections it hands out and closes, failing Connect
// when err is set.
type countingRepo struct {
	id     string
	err    error
	opened atomic.Int64
	closed atomic.Int64
}

func (r *countingRepo) ID() string { return r.id }

func (r *countingRepo) Connect(ctx context.Context) (storage.Connection, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.opened.Add(1)
	return &countingConn{repo: r}, nil
}

type countingConn struct {
	storage.Connection
	repo *countingRepo
}

func (c *countingConn) Close() error {
	c.repo.closed.Add(1)
	return nil
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{}, repos{})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(testConfig(), nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpenConnectionIsAllOrNothing(t *testing.T) {
	unavailable := errors.New("connection refused")
	local := &countingRepo{id: "local"}
	people := &countingRepo{id: "people", err: unavailable}
	places := &countingRepo{id: "places"}
	f := newFederation(t, testConfig(), repos{"local": local, "people": people, "places": places})

	conn, err := f.OpenConnection(context.Background())
	require.Nil(t, conn)
	require.ErrorIs(t, err, unavailable)
	require.ErrorIs(t, err, ErrMemberUnavailable)

	var me *MemberError
	require.ErrorAs(t, err, &me)
	require.Equal(t, "people", me.MemberID)
	require.Equal(t, "connect", me.Op)

	require.Equal(t, local.opened.Load(), local.closed.Load())
	require.Equal(t, places.opened.Load(), places.closed.Load())
	require.Zero(t, people.opened.Load())

	people.err = nil
	conn = connect(t, f)
	require.Equal(t, []string{"local", "people", "places"}, conn.Members())
	require.Equal(t, int64(1), people.opened.Load())
}

func TestConnectionCloseCollectsErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	errPeople := errors.New("people close failed")
	errPlaces := errors.New("places close failed")

	conns := map[string]*mocks.MockConnection{}
	resolver := repos{}
	for id, closeErr := range map[string]error{"local": nil, "people": errPeople, "places": errPlaces} {
		conn := mocks.NewMockConnection(ctrl)
		conn.EXPECT().Close().Return(closeErr).Times(1)
		repo := mocks.NewMockRepository(ctrl)
		repo.EXPECT().Connect(gomock.Any()).Return(conn, nil).Times(1)
		conns[id] = conn
		resolver[id] = repo
	}
	f := newFederation(t, testConfig(), resolver)

	conn, err := f.OpenConnection(context.Background())
	require.NoError(t, err)
	require.Same(t, conns["local"], conn.Default())

	err = conn.Close()
	require.ErrorIs(t, err, errPeople)
	require.NotErrorIs(t, err, errPlaces)

	require.NoError(t, conn.Close())
	_, err = conn.Query(context.Background(), "ASK {}")
	require.ErrorIs(t, err, storage.ErrClosed)
}

// countingResolver counts member resolutions.
type countingResolver struct {
	repos
	calls atomic.Int64
}

func (r *countingResolver) Repository(ctx context.Context, id string) (storage.Repository, error) {
	r.calls.Add(1)
	return r.repos.Repository(ctx, id)
}

func TestCatalogIsResolvedLazily(t *testing.T) {
	resolver := &countingResolver{repos: testRepos(t)}
	f := newFederation(t, testConfig(), resolver)
	require.Zero(t, resolver.calls.Load())

	connect(t, f)
	connect(t, f)
	require.Equal(t, int64(3), resolver.calls.Load())

	f.Invalidate()
	connect(t, f)
	require.Equal(t, int64(6), resolver.calls.Load())
}

func TestCatalogResolutionFailure(t *testing.T) {
	resolver := testRepos(t)
	delete(resolver, "places")
	f := newFederation(t, testConfig(), resolver)

	_, err := f.OpenConnection(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)

	var me *MemberError
	require.ErrorAs(t, err, &me)
	require.Equal(t, "places", me.MemberID)
	require.Equal(t, "resolve", me.Op)
}

func TestMembers(t *testing.T) {
	f := newFederation(t, testConfig(), testRepos(t))
	require.Equal(t, []Member{
		{ID: "local"},
		{ID: "people", ReferenceIRI: peopleService},
		{ID: "places", ReferenceIRI: placesService},
	}, f.Members())
}

func TestMembershipCannotBeMutated(t *testing.T) {
	f := newFederation(t, testConfig(), testRepos(t))
	require.ErrorIs(t, f.AddMember("extra"), errors.ErrUnsupported)
	require.ErrorIs(t, f.SetResolver(repos{}), errors.ErrUnsupported)
	require.Len(t, f.Members(), 3)
}

func TestShutdown(t *testing.T) {
	f, err := New(testConfig(), testRepos(t))
	require.NoError(t, err)

	conn, err := f.OpenConnection(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.NoError(t, f.Shutdown(context.Background()))
	require.NotPanics(t, func() {
		require.NoError(t, f.Shutdown(context.Background()))
	})

	_, err = f.OpenConnection(context.Background())
	require.ErrorIs(t, err, ErrShutdown)
}

func TestJoinFlags(t *testing.T) {
	for _, tc := range []struct {
		flags    JoinFlags
		expected Algorithm
	}{
		{JoinFlags{}, AlgorithmNested},
		{JoinFlags{Bound: true}, AlgorithmBound},
		{JoinFlags{AsyncParallel: true}, AlgorithmAsyncParallel},
		{JoinFlags{AsyncParallel: true, Bound: true}, AlgorithmAsyncParallel},
		{JoinFlags{Competing: true, Bound: true}, AlgorithmCompeting},
		{JoinFlags{AsyncParallel: true, Bound: true, Competing: true}, AlgorithmCompeting},
	} {
		t.Run(string(tc.expected), func(t *testing.T) {
			require.Equal(t, tc.expected, tc.flags.Algorithm())
		})
	}
}

func TestStrategySnapshotsFlags(t *testing.T) {
	f := newFederation(t, testConfig(), testRepos(t))
	conn := connect(t, f)

	f.SetJoinFlags(JoinFlags{})
	f.SetBoundJoin(true)
	before := f.NewStrategy(context.Background(), conn)
	require.Equal(t, AlgorithmBound, before.Algorithm())

	f.SetCompetingJoin(true)
	require.Equal(t, AlgorithmBound, before.Algorithm())
	require.Equal(t, AlgorithmCompeting, f.NewStrategy(context.Background(), conn).Algorithm())

	f.SetCompetingJoin(false)
	f.SetAsyncParallelJoin(true)
	require.Equal(t, JoinFlags{AsyncParallel: true, Bound: true}, f.JoinFlags())
	require.Equal(t, JoinFlags{AsyncParallel: true, Bound: true}, f.Config().Joins)
}

func TestRepositoryAdapter(t *testing.T) {
	f := newFederation(t, testConfig(), testRepos(t), WithID("fed"))
	repo := f.Repository()
	require.Equal(t, "fed", repo.ID())

	conn, err := repo.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	it, err := conn.Evaluate(context.Background(), &algebra.Service{
		Ref: algebra.NewConst(rdf.NewIRI(peopleService)),
		Arg: &algebra.StatementPattern{
			Subject:   algebra.NewVar("p"),
			Predicate: algebra.NewConst(iri("age")),
			Object:    algebra.NewVar("age"),
		},
	}, rdf.NewSolution("p", iri("bob")))
	require.NoError(t, err)
	rows, err := iterator.Collect(context.Background(), it)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff([]rdf.Solution{
		rdf.NewSolution("p", iri("bob"), "age", rdf.NewInteger(25)),
	}, rows))

	statements, err := conn.Statements(context.Background(), iri("alice"), rdf.Term{}, rdf.Term{})
	require.NoError(t, err)
	triples, err := iterator.Collect(context.Background(), statements)
	require.NoError(t, err)
	require.Len(t, triples, 2)
}
