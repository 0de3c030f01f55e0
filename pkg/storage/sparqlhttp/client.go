// Package sparqlhttp connects to remote members over the SPARQL 1.1 protocol and
// exposes any repository through the same protocol.
package sparqlhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/internal/build"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/query/sparql"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/rdf/ntriples"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/telemetry"
)

var tracer = otel.Tracer("ephedra/pkg/storage/sparqlhttp")

// Engine is the configuration name of this repository type.
const Engine = "sparql"

const (
	defaultRetryMax = 3
	defaultTimeout  = 30 * time.Second
)

// ErrQueryRejected is returned when the remote endpoint answers a query with a
// client error.
var ErrQueryRejected = errors.New("query rejected by remote endpoint")

// Option configures a [Repository].
type Option func(*Repository)

// WithLogger sets the logger for requests and retries.
func WithLogger(l logger.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithRetryMax sets how many times a failed request is retried.
func WithRetryMax(n int) Option {
	return func(r *Repository) { r.retryMax = n }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(r *Repository) { r.timeout = d }
}

// WithTransport replaces the base transport, which is wrapped for tracing.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *Repository) { r.transport = rt }
}

// Repository is a remote member reached over the SPARQL protocol.
type Repository struct {
	id        string
	endpoint  string
	logger    logger.Logger
	retryMax  int
	timeout   time.Duration
	transport http.RoundTripper
	client    *retryablehttp.Client
}

var _ storage.Repository = (*Repository)(nil)

// New returns the member id answering queries at endpoint.
func New(id, endpoint string, opts ...Option) (*Repository, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid sparql endpoint %q", endpoint)
	}

	r := &Repository{
		id:        id,
		endpoint:  endpoint,
		logger:    logger.NewNoopLogger(),
		retryMax:  defaultRetryMax,
		timeout:   defaultTimeout,
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(r)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = r.retryMax
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = leveledLogger{r.logger}
	client.HTTPClient = &http.Client{
		Timeout:   r.timeout,
		Transport: otelhttp.NewTransport(r.transport),
	}
	r.client = client
	return r, nil
}

// ID see [storage.Repository].ID.
func (r *Repository) ID() string {
	return r.id
}

// Endpoint returns the URL queries are posted to.
func (r *Repository) Endpoint() string {
	return r.endpoint
}

// Connect see [storage.Repository].Connect. No request is made; an unreachable
// endpoint fails the first query.
func (r *Repository) Connect(ctx context.Context) (storage.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &connection{repo: r}, nil
}

// response is a fully read reply.
type response struct {
	contentType string
	body        []byte
}

func (r *Repository) post(ctx context.Context, query string) (*response, error) {
	ctx, span := tracer.Start(ctx, "sparqlhttp.post", trace.WithAttributes(
		attribute.String("member", r.id),
		attribute.String("endpoint", r.endpoint),
	))
	defer span.End()

	form := url.Values{"query": {query}}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", ContentTypeForm)
	req.Header.Set("Accept", ContentTypeResultsJSON+", "+ContentTypeNTriples+";q=0.9")
	req.Header.Set("User-Agent", build.ProjectName+"/"+build.Version)

	resp, err := r.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		err = storage.UnavailableError(r.id, err)
		telemetry.TraceError(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		err = storage.UnavailableError(r.id, err)
		telemetry.TraceError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("status", resp.StatusCode))
	switch {
	case resp.StatusCode >= 500:
		err = storage.UnavailableError(r.id, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		err = fmt.Errorf("%w: %s: status %d: %s", ErrQueryRejected, r.id, resp.StatusCode, bytes.TrimSpace(body))
	}
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return &response{contentType: contentType, body: body}, nil
}

func (r *Repository) selectQuery(ctx context.Context, query string) (*SelectResults, error) {
	resp, err := r.post(ctx, query)
	if err != nil {
		return nil, err
	}
	res, err := DecodeSelect(resp.body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.id, err)
	}
	return res, nil
}

type connection struct {
	repo *Repository
}

var _ storage.Connection = (*connection)(nil)

// Statements see [storage.TripleSource].Statements.
func (c *connection) Statements(ctx context.Context, s, p, o rdf.Term) (storage.TripleIterator, error) {
	pattern := &algebra.StatementPattern{
		Subject:   patternVar("s", s),
		Predicate: patternVar("p", p),
		Object:    patternVar("o", o),
	}
	query, err := sparql.RenderSelect(pattern, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.repo.selectQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	triples := make([]rdf.Triple, 0, len(res.Solutions))
	for _, sol := range res.Solutions {
		t := rdf.NewTriple(pick(s, sol, "s"), pick(p, sol, "p"), pick(o, sol, "o"))
		if storage.ValidateTriple(t) == nil {
			triples = append(triples, t)
		}
	}
	return storage.NewStaticIterator(triples...), nil
}

func patternVar(name string, t rdf.Term) algebra.Var {
	if t.IsBound() {
		return algebra.NewConst(t)
	}
	return algebra.NewVar(name)
}

func pick(fixed rdf.Term, s rdf.Solution, name string) rdf.Term {
	if fixed.IsBound() {
		return fixed
	}
	return s.Get(name)
}

// Evaluate see [storage.Connection].Evaluate. The bindings are sent as a VALUES
// block and merged back into every returned solution.
func (c *connection) Evaluate(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	query, err := sparql.RenderSelect(expr, bindings)
	if err != nil {
		return nil, err
	}
	c.repo.logger.DebugWithContext(ctx, "remote sub-query", zap.String("member", c.repo.id), zap.String("query", query))

	res, err := c.repo.selectQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]rdf.Solution, 0, len(res.Solutions))
	for _, s := range res.Solutions {
		if merged, ok := s.Merge(bindings); ok {
			out = append(out, merged)
		}
	}
	return storage.NewStaticIterator(out...), nil
}

// Query see [storage.Connection].Query. The query text is sent unchanged; its form
// decides how the reply is read.
func (c *connection) Query(ctx context.Context, query string) (*storage.QueryResult, error) {
	form := algebra.FormSelect
	if q, err := sparql.Parse(query); err == nil {
		form = q.Form
	}

	resp, err := c.repo.post(ctx, query)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.contentType == ContentTypeNTriples || form == algebra.FormConstruct || form == algebra.FormDescribe:
		if form == algebra.FormSelect || form == algebra.FormAsk {
			form = algebra.FormConstruct
		}
		triples, err := ntriples.NewReader(bytes.NewReader(resp.body)).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", c.repo.id, ErrMalformedResults, err)
		}
		return storage.NewGraphResult(form, storage.NewStaticIterator(triples...)), nil
	case form == algebra.FormAsk:
		b, err := DecodeBoolean(resp.body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.repo.id, err)
		}
		return storage.NewBooleanResult(b), nil
	default:
		res, err := DecodeSelect(resp.body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.repo.id, err)
		}
		return storage.NewSolutionsResult(res.Vars, storage.NewStaticIterator(res.Solutions...)), nil
	}
}

// Close see [storage.Connection].Close.
func (c *connection) Close() error {
	return nil
}

// leveledLogger forwards retry diagnostics to the member logger.
type leveledLogger struct {
	logger logger.Logger
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, zap.Any(key, keysAndValues[i+1]))
	}
	return out
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, fields(keysAndValues)...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, fields(keysAndValues)...)
}
