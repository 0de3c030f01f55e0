package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ephedra/ephedra/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func serve(h http.Handler) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sparql?query=ASK{}", nil))
	return rec
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))

	serve(h)
	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := RequestIDFromContext(r.Context())
		require.True(t, ok)
		seen = id

		fields := logger.FieldsFromContext(r.Context())
		require.Len(t, fields, 1)
		require.Equal(t, requestIDKey, fields[0].Key)
	}), WithRequestID())

	rec := serve(h)
	first := seen
	require.NotEmpty(t, first)
	require.Equal(t, first, rec.Header().Get(RequestIDHeader))

	second := serve(h).Header().Get(RequestIDHeader)
	require.Equal(t, seen, second)
	require.NotEqual(t, first, second)
}

func TestTimeout(t *testing.T) {
	h := WithTimeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		require.ErrorIs(t, r.Context().Err(), context.DeadlineExceeded)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	require.Equal(t, http.StatusServiceUnavailable, serve(h).Code)

	h = WithTimeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Context().Deadline()
		require.False(t, ok)
	}))
	require.Equal(t, http.StatusOK, serve(h).Code)
}

func TestPanicRecovery(t *testing.T) {
	l, logs := logger.NewObserverLogger("error")
	h := WithPanicRecovery(l)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := serve(h)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"code":"internal_error","message":"Internal Server Error"}`, rec.Body.String())
	require.Equal(t, 1, logs.Len())
}

func TestLogging(t *testing.T) {
	l, logs := logger.NewObserverLogger("info")
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			http.Error(w, "member down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}), WithRequestID(), WithLogging(l))

	serve(h)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sparql?fail=1", nil))

	entries := logs.FilterMessage(httpReqCompleteKey).All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	require.Equal(t, int64(http.StatusOK), first[httpStatusKey])
	require.Equal(t, "/sparql", first[httpPathKey])
	require.NotEmpty(t, first[requestIDKey])

	require.Equal(t, int64(http.StatusBadGateway), entries[1].ContextMap()[httpStatusKey])
	require.Equal(t, "error", entries[1].Level.String())
}
