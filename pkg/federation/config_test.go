package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		err    string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "no_default", modify: func(c *Config) { c.DefaultMember = "" }, err: "default member"},
		{name: "no_delegate", modify: func(c *Config) { c.Members[0].Delegate = "" }, err: "delegate"},
		{name: "relative_iri", modify: func(c *Config) { c.Members[0].ReferenceIRI = "people" }, err: "not absolute"},
		{name: "duplicate_iri", modify: func(c *Config) { c.Members[1].ReferenceIRI = peopleService }, err: "duplicate"},
		{name: "relative_input", modify: func(c *Config) { c.Members[1].Inputs = []ServiceInput{{Predicate: "livesIn"}} }, err: "input predicate"},
		{name: "negative_limit", modify: func(c *Config) { c.MaxConcurrentProbes = -1 }, err: "negative"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestConfigValidateFillsDefaults(t *testing.T) {
	cfg := Config{DefaultMember: "local"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultBoundJoinBatchSize, cfg.BoundJoinBatchSize)
	require.Equal(t, DefaultMaxConcurrentProbes, cfg.MaxConcurrentProbes)
	require.Equal(t, DefaultMaxCompetingPlans, cfg.MaxCompetingPlans)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, JoinFlags{}, cfg.Joins)
}

func TestMemberIDs(t *testing.T) {
	cfg := testConfig()
	cfg.Members = append(cfg.Members, MemberMapping{ReferenceIRI: "http://local.example/sparql", Delegate: "local"})
	cfg.Members = append(cfg.Members, MemberMapping{ReferenceIRI: "http://people2.example/sparql", Delegate: "people"})
	require.Equal(t, []string{"local", "people", "places"}, cfg.MemberIDs())
}
