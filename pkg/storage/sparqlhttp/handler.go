package sparqlhttp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/query/sparql"
	"github.com/ephedra/ephedra/pkg/rdf/ntriples"
	"github.com/ephedra/ephedra/pkg/storage"
)

const maxQueryBytes = 1 << 20

// StatusCoder is implemented by errors that choose their own HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

type handler struct {
	repo   storage.Repository
	logger logger.Logger
}

// HandlerOption configures the handler returned by [NewHandler].
type HandlerOption func(*handler)

// WithHandlerLogger sets the logger for failed requests.
func WithHandlerLogger(l logger.Logger) HandlerOption {
	return func(h *handler) { h.logger = l }
}

// NewHandler serves repo over the SPARQL 1.1 protocol: GET with a query parameter,
// POST of a form, or POST of the query text.
func NewHandler(repo storage.Repository, opts ...HandlerOption) http.Handler {
	h := &handler{repo: repo, logger: logger.NewNoopLogger()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query, status := readQuery(w, r)
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}

	body, contentType, err := h.answer(r.Context(), query)
	if err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorWithContext(r.Context(), "query failed", zap.String("repository", h.repo.ID()), zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// answer runs the query to completion so that evaluation errors still produce an
// error status.
func (h *handler) answer(ctx context.Context, query string) ([]byte, string, error) {
	conn, err := h.repo.Connect(ctx)
	if err != nil {
		return nil, "", err
	}
	defer conn.Close()

	res, err := conn.Query(ctx, query)
	if err != nil {
		return nil, "", err
	}
	defer res.Close()

	var buf bytes.Buffer
	switch {
	case res.Triples != nil:
		triples, err := iterator.Collect(ctx, res.Triples)
		if err != nil {
			return nil, "", err
		}
		w := ntriples.NewWriter(&buf)
		for _, t := range triples {
			if err := w.Write(t); err != nil {
				return nil, "", err
			}
		}
		if err := w.Flush(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), ContentTypeNTriples, nil
	case res.Solutions != nil:
		solutions, err := iterator.Collect(ctx, res.Solutions)
		if err != nil {
			return nil, "", err
		}
		if err := EncodeSelect(&buf, res.Vars, solutions); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), ContentTypeResultsJSON, nil
	default:
		if err := EncodeBoolean(&buf, res.Boolean); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), ContentTypeResultsJSON, nil
	}
}

func readQuery(w http.ResponseWriter, r *http.Request) (string, int) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query().Get("query")
		if q == "" {
			return "", http.StatusBadRequest
		}
		return q, http.StatusOK
	case http.MethodPost:
		contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		r.Body = http.MaxBytesReader(w, r.Body, maxQueryBytes)
		switch contentType {
		case ContentTypeQuery:
			b, err := io.ReadAll(r.Body)
			if err != nil || len(b) == 0 {
				return "", http.StatusBadRequest
			}
			return string(b), http.StatusOK
		case ContentTypeForm:
			if err := r.ParseForm(); err != nil {
				return "", http.StatusBadRequest
			}
			q := r.PostForm.Get("query")
			if q == "" {
				return "", http.StatusBadRequest
			}
			return q, http.StatusOK
		default:
			return "", http.StatusUnsupportedMediaType
		}
	default:
		return "", http.StatusMethodNotAllowed
	}
}

// StatusFor maps a query error to the HTTP status of the protocol reply.
func StatusFor(err error) int {
	var sc StatusCoder
	switch {
	case errors.As(err, &sc):
		return sc.HTTPStatus()
	case errors.Is(err, sparql.ErrMalformedQuery),
		errors.Is(err, sparql.ErrUnknownAggregate),
		errors.Is(err, sparql.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
