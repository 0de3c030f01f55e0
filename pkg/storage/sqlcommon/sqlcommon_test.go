package sqlcommon

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
)

func TestEncodingRoundTrip(t *testing.T) {
	triples := []rdf.Triple{
		rdf.NewTriple(rdf.NewIRI("http://s"), rdf.NewIRI("http://p"), rdf.NewString("tab\tquote\"")),
		rdf.NewTriple(rdf.NewBlank("x1"), rdf.NewIRI("http://p"), rdf.NewLangLiteral("hallo", "de")),
		rdf.NewTriple(rdf.NewIRI("http://s"), rdf.NewIRI("http://p"), rdf.NewLiteral("2024-01-01T00:00:00Z", rdf.XSDDateTime)),
	}
	for _, tr := range triples {
		got, err := DecodeTriple(EncodeTerm(tr.Subject), EncodeTerm(tr.Predicate), EncodeTerm(tr.Object))
		require.NoError(t, err)
		require.Equal(t, tr, got)
	}

	require.Len(t, TripleID(triples[0]), 64)
	require.NotEqual(t, TripleID(triples[0]), TripleID(triples[1]))
	require.Equal(t, TripleID(triples[0]), TripleID(triples[0]))

	_, err := DecodeTriple("not", "a", "triple")
	require.Error(t, err)
}

func TestSelectStatements(t *testing.T) {
	stbl := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	tests := []struct {
		name     string
		s, p, o  rdf.Term
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:    "wildcard",
			wantSQL: "SELECT subject, predicate, object FROM triple",
		},
		{
			name:     "subject_and_object",
			s:        rdf.NewIRI("http://s"),
			o:        rdf.NewInteger(3),
			wantSQL:  "SELECT subject, predicate, object FROM triple WHERE subject = $1 AND object = $2",
			wantArgs: []interface{}{"<http://s>", `"3"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := selectStatements(stbl, tt.s, tt.p, tt.o).ToSql()
			require.NoError(t, err)
			require.Equal(t, tt.wantSQL, query)
			if tt.wantArgs == nil {
				require.Empty(t, args)
			} else {
				require.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestHandleSQLError(t *testing.T) {
	require.ErrorIs(t, HandleSQLError(sql.ErrNoRows), storage.ErrNotFound)
	require.ErrorIs(t, HandleSQLError(context.Canceled), context.Canceled)

	boom := errors.New("boom")
	err := HandleSQLError(boom)
	require.ErrorIs(t, err, boom)
	require.EqualError(t, err, "sql error: boom")
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.Aggregates)
	require.Equal(t, defaultInsertBatchSize, cfg.InsertBatchSize)
	require.NotZero(t, cfg.PingTimeout)

	cfg = NewConfig(WithInsertBatchSize(7), WithMaxOpenConns(3), WithMetrics())
	require.Equal(t, 7, cfg.InsertBatchSize)
	require.Equal(t, 3, cfg.MaxOpenConns)
	require.True(t, cfg.ExportMetrics)
}
