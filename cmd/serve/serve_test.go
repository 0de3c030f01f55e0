package serve

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ephedra/ephedra/pkg/config"
	"github.com/ephedra/ephedra/pkg/federation"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/middleware"
	"github.com/ephedra/ephedra/pkg/storage/manager"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.nt")
	people := filepath.Join(dir, "people.nt")
	require.NoError(t, os.WriteFile(local, []byte("<http://example.com/alice> <http://example.com/knows> <http://example.com/bob> .\n"), 0o600))
	require.NoError(t, os.WriteFile(people, []byte("<http://example.com/bob> <http://example.com/name> \"Bob\" .\n"), 0o600))

	cfg := config.DefaultConfig()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Enabled = false
	cfg.Repositories = []manager.Definition{
		{ID: "local", Engine: "memory", DataFiles: []string{local}},
		{ID: "people", Engine: "memory", DataFiles: []string{people}},
	}
	cfg.Federation.DefaultMember = "local"
	cfg.Federation.Members = []federation.MemberMapping{
		{ReferenceIRI: "http://people.example/sparql", Delegate: "people"},
	}
	require.NoError(t, cfg.Verify())
	return cfg
}

func get(t *testing.T, client *http.Client, u string) (int, string, http.Header) {
	t.Helper()
	resp, err := client.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	l, logs := logger.NewObserverLogger("info")

	started := make(chan net.Addr, 1)
	serverCtx := &ServerContext{Logger: l, started: started}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serverCtx.Run(ctx, cfg) }()

	var addr net.Addr
	select {
	case addr = <-started:
	case err := <-done:
		t.Fatalf("server stopped early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	base := "http://" + addr.String()

	query := `SELECT ?name WHERE { <http://example.com/alice> <http://example.com/knows> ?p .
SERVICE <http://people.example/sparql> { ?p <http://example.com/name> ?name } }`
	code, body, header := get(t, client, base+"/sparql?query="+url.QueryEscape(query))
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "Bob", gjson.Get(body, "results.bindings.0.name.value").String())
	require.NotEmpty(t, header.Get(middleware.RequestIDHeader))

	code, body, _ = get(t, client, base+"/sparql?query="+url.QueryEscape("SELECT WHERE"))
	require.Equal(t, http.StatusBadRequest, code, body)

	code, body, _ = get(t, client, base+"/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "SERVING", gjson.Get(body, "status").String())

	code, body, _ = get(t, client, base+"/members")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `[{"id":"local","default":true},{"id":"people","referenceIRI":"http://people.example/sparql"}]`, body)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	require.NotZero(t, logs.FilterMessage("http_req_complete").Len())
	require.Equal(t, 1, logs.FilterMessage("server exited. goodbye 👋").Len())
}

func TestRunFailsOnBadRepository(t *testing.T) {
	cfg := testConfig(t)
	cfg.Repositories[1].DataFiles = []string{filepath.Join(t.TempDir(), "missing.nt")}

	serverCtx := &ServerContext{Logger: logger.NewNoopLogger()}
	require.Error(t, serverCtx.Run(context.Background(), cfg))
}
