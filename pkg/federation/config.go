package federation

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultBoundJoinBatchSize  = 15
	DefaultMaxConcurrentProbes = 40
	DefaultMaxCompetingPlans   = 3
	DefaultShutdownTimeout     = 10 * time.Second
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid federation config")

// MemberMapping makes the repository Delegate addressable as SERVICE <ReferenceIRI>.
type MemberMapping struct {
	ReferenceIRI string `json:"referenceIRI" mapstructure:"referenceIRI"`
	Delegate     string `json:"delegate" mapstructure:"delegate"`
	// Inputs are the pattern positions the delegate cannot enumerate. Joins
	// call it only once they are bound.
	Inputs []ServiceInput `json:"inputs,omitempty" mapstructure:"inputs"`
}

// ServiceInput is a mandatory input of a member: the object of the patterns
// with Predicate, or their subject when Subject is set.
type ServiceInput struct {
	Predicate string `json:"predicate" mapstructure:"predicate"`
	Subject   bool   `json:"subject,omitempty" mapstructure:"subject"`
}

// JoinFlags enable the join algorithms. When several are enabled, competing wins
// over async parallel, which wins over bound. With none enabled joins are nested
// loops.
type JoinFlags struct {
	AsyncParallel bool `json:"asyncParallel" mapstructure:"asyncParallel"`
	Bound         bool `json:"bound" mapstructure:"bound"`
	Competing     bool `json:"competing" mapstructure:"competing"`
}

// Config describes a federation.
type Config struct {
	// DefaultMember is the repository id of the local data.
	DefaultMember string          `json:"defaultMember" mapstructure:"defaultMember"`
	Members       []MemberMapping `json:"members" mapstructure:"members"`
	Joins         JoinFlags       `json:"joins" mapstructure:"joins"`

	EnableQueryHints bool `json:"enableQueryHints" mapstructure:"enableQueryHints"`

	// MaxExecutionTime bounds each query evaluation. Zero means no bound.
	MaxExecutionTime    time.Duration `json:"maxExecutionTime" mapstructure:"maxExecutionTime"`
	BoundJoinBatchSize  int           `json:"boundJoinBatchSize" mapstructure:"boundJoinBatchSize"`
	MaxConcurrentProbes int           `json:"maxConcurrentProbes" mapstructure:"maxConcurrentProbes"`
	MaxCompetingPlans   int           `json:"maxCompetingPlans" mapstructure:"maxCompetingPlans"`
	ShutdownTimeout     time.Duration `json:"shutdownTimeout" mapstructure:"shutdownTimeout"`
	// QueryCacheSize is the number of parsed queries kept per federation.
	QueryCacheSize int64 `json:"queryCacheSize" mapstructure:"queryCacheSize"`
}

// DefaultConfig returns a config with every join algorithm and query hints
// enabled. DefaultMember must still be set.
func DefaultConfig() Config {
	return Config{
		Joins:               JoinFlags{AsyncParallel: true, Bound: true, Competing: true},
		EnableQueryHints:    true,
		BoundJoinBatchSize:  DefaultBoundJoinBatchSize,
		MaxConcurrentProbes: DefaultMaxConcurrentProbes,
		MaxCompetingPlans:   DefaultMaxCompetingPlans,
		ShutdownTimeout:     DefaultShutdownTimeout,
		QueryCacheSize:      1000,
	}
}

// Validate checks c and fills the zero tuning fields with their defaults.
func (c *Config) Validate() error {
	if c.DefaultMember == "" {
		return fmt.Errorf("%w: a default member is required", ErrInvalidConfig)
	}
	seen := map[string]struct{}{}
	for i, m := range c.Members {
		if m.Delegate == "" {
			return fmt.Errorf("%w: member %d: delegate is required", ErrInvalidConfig, i)
		}
		u, err := url.Parse(m.ReferenceIRI)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("%w: member %d: reference IRI %q is not absolute", ErrInvalidConfig, i, m.ReferenceIRI)
		}
		if _, ok := seen[m.ReferenceIRI]; ok {
			return fmt.Errorf("%w: duplicate reference IRI %q", ErrInvalidConfig, m.ReferenceIRI)
		}
		seen[m.ReferenceIRI] = struct{}{}
		for _, in := range m.Inputs {
			if u, err := url.Parse(in.Predicate); err != nil || !u.IsAbs() {
				return fmt.Errorf("%w: member %d: input predicate %q is not absolute", ErrInvalidConfig, i, in.Predicate)
			}
		}
	}
	if c.MaxExecutionTime < 0 || c.ShutdownTimeout < 0 ||
		c.BoundJoinBatchSize < 0 || c.MaxConcurrentProbes < 0 || c.MaxCompetingPlans < 0 || c.QueryCacheSize < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidConfig)
	}

	if c.BoundJoinBatchSize == 0 {
		c.BoundJoinBatchSize = DefaultBoundJoinBatchSize
	}
	if c.MaxConcurrentProbes == 0 {
		c.MaxConcurrentProbes = DefaultMaxConcurrentProbes
	}
	if c.MaxCompetingPlans == 0 {
		c.MaxCompetingPlans = DefaultMaxCompetingPlans
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.QueryCacheSize == 0 {
		c.QueryCacheSize = 1000
	}
	return nil
}

// MemberIDs returns the default member followed by the delegates, without
// duplicates.
func (c *Config) MemberIDs() []string {
	ids := []string{c.DefaultMember}
	seen := map[string]struct{}{c.DefaultMember: {}}
	for _, m := range c.Members {
		if _, ok := seen[m.Delegate]; ok {
			continue
		}
		seen[m.Delegate] = struct{}{}
		ids = append(ids, m.Delegate)
	}
	return ids
}
