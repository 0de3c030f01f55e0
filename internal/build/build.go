// Package build provides build information that is linked into the application. Other
// packages within this project can use this information in logs etc..
package build

var (
	// Version is the build version of the binary (e.g. v0.1.0 or a commit sha).
	Version = "dev"

	// Commit is the commit hash the binary was built from.
	Commit = "none"

	// Date is the date at which the binary was built.
	Date = "unknown"

	// ProjectName is the project name used in the tracer resource and user agents.
	ProjectName = "ephedra"
)

// MinimumSupportedDatastoreSchemaRevision is the lowest migration version the SQL
// repositories can read.
const MinimumSupportedDatastoreSchemaRevision = int64(1)
