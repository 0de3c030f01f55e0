package validate

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/cmd"
	"github.com/ephedra/ephedra/cmd/util"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	root := cmd.NewRootCommand()
	root.AddCommand(NewValidateCommand())
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"validate"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	util.PrepareTempConfigFile(t, `repositories:
  - id: local
    engine: memory
  - id: archive
    engine: sqlite
    uri: file:`+filepath.Join(t.TempDir(), "archive.db")+`
federation:
  defaultMember: local
  members:
    - referenceIRI: http://archive.example/sparql
      delegate: archive
`)

	out, err := execute(t, "--connect")
	require.NoError(t, err)
	require.JSONEq(t, `[
  {"member_id": "local", "engine": "memory"},
  {"member_id": "archive", "reference_iri": "http://archive.example/sparql", "engine": "sqlite"}
]`, out)
}

func TestValidateReportsUnreachableMembers(t *testing.T) {
	util.PrepareTempConfigFile(t, `repositories:
  - id: local
    engine: memory
  - id: remote
    engine: sparql
    uri: http://127.0.0.1:1/sparql
federation:
  defaultMember: local
  members:
    - referenceIRI: http://remote.example/sparql
      delegate: remote
`)

	out, err := execute(t)
	require.NoError(t, err)
	require.NotContains(t, out, "error")

	out, err = execute(t, "--connect")
	require.ErrorContains(t, err, "could not be reached")
	require.Contains(t, out, `"member_id": "remote"`)
	require.Contains(t, out, `"error"`)
}

func TestValidateRejectsInvalidConfig(t *testing.T) {
	util.PrepareTempConfigFile(t, `repositories:
  - id: local
    engine: memory
federation:
  defaultMember: elsewhere
`)

	_, err := execute(t)
	require.ErrorContains(t, err, `member "elsewhere" names no repository`)
}
