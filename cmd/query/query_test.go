package query

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ephedra/ephedra/cmd"
	"github.com/ephedra/ephedra/cmd/util"
)

const (
	localData = `<http://example.com/alice> <http://example.com/knows> <http://example.com/bob> .
<http://example.com/alice> <http://example.com/name> "Alice" .
`
	peopleData = `<http://example.com/bob> <http://example.com/age> "25"^^<http://www.w3.org/2001/XMLSchema#integer> .
`
	crossMemberQuery = `PREFIX ex: <http://example.com/>
SELECT ?who ?age WHERE {
  ex:alice ex:knows ?who .
  SERVICE <http://people.example/sparql> { ?who ex:age ?age }
}`
)

func prepareFederation(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.nt")
	people := filepath.Join(dir, "people.nt")
	require.NoError(t, os.WriteFile(local, []byte(localData), 0o600))
	require.NoError(t, os.WriteFile(people, []byte(peopleData), 0o600))

	util.PrepareTempConfigFile(t, `log:
  level: none
repositories:
  - id: local
    engine: memory
    dataFiles: [`+local+`]
  - id: people
    engine: memory
    dataFiles: [`+people+`]
federation:
  defaultMember: local
  members:
    - referenceIRI: http://people.example/sparql
      delegate: people
`)
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	root := cmd.NewRootCommand()
	root.AddCommand(NewQueryCommand())
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"query"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestQueryText(t *testing.T) {
	prepareFederation(t)

	out, err := execute(t, "", crossMemberQuery)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, []string{"?who", "?age"}, strings.Fields(lines[0]))
	require.Equal(t, []string{"<http://example.com/bob>", `"25"^^<http://www.w3.org/2001/XMLSchema#integer>`}, strings.Fields(lines[1]))
}

func TestQueryJSONFromStdin(t *testing.T) {
	prepareFederation(t)

	out, err := execute(t, crossMemberQuery, "--query-file", "-", "--format", "json")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/bob", gjson.Get(out, "results.bindings.0.who.value").String())
	require.Equal(t, "25", gjson.Get(out, "results.bindings.0.age.value").String())
}

func TestQueryForms(t *testing.T) {
	prepareFederation(t)

	out, err := execute(t, "", `ASK { <http://example.com/alice> ?p ?o }`)
	require.NoError(t, err)
	require.Equal(t, "true\n", out)

	out, err = execute(t, "", `CONSTRUCT { ?s <http://example.com/label> ?n } WHERE { ?s <http://example.com/name> ?n }`, "--format", "ntriples")
	require.NoError(t, err)
	require.Equal(t, "<http://example.com/alice> <http://example.com/label> \"Alice\" .\n", out)

	_, err = execute(t, "", `CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }`, "--format", "json")
	require.ErrorContains(t, err, "cannot be written as json")
}

func TestQueryArguments(t *testing.T) {
	prepareFederation(t)

	_, err := execute(t, "")
	require.ErrorContains(t, err, "missing query")

	_, err = execute(t, "", "ASK {}", "--query-file", "q.rq")
	require.ErrorContains(t, err, "either as an argument")

	_, err = execute(t, "", "ASK {}", "--format", "xml")
	require.ErrorContains(t, err, "unknown output format")

	_, err = execute(t, "", "SELECT WHERE")
	require.Error(t, err)
}
