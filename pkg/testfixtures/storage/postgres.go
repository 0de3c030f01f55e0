package storage

import (
	"fmt"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	"github.com/stretchr/testify/require"
)

const postgresImage = "postgres:17"

type postgresTestContainer struct {
	addr     string
	username string
	password string
}

// NewPostgresTestContainer returns the DatastoreTestContainer of the postgres
// member.
func NewPostgresTestContainer() *postgresTestContainer {
	return &postgresTestContainer{}
}

// RunPostgresTestContainer starts PostgreSQL and waits until it accepts
// connections. The schema is left to the member, which migrates on open.
func (p *postgresTestContainer) RunPostgresTestContainer(t testing.TB) DatastoreTestContainer {
	addr := runContainer(t, containerSpec{
		image: postgresImage,
		env: []string{
			"POSTGRES_DB=defaultdb",
			"POSTGRES_PASSWORD=secret",
		},
		port: "5432/tcp",
	})

	pg := &postgresTestContainer{
		addr:     addr,
		username: "postgres",
		password: "secret",
	}
	require.NoError(t, waitForDatabase("pgx", pg.GetConnectionURI(true)), "failed to connect to postgres container")
	return pg
}

// GetConnectionURI returns the postgres connection uri for the running container.
func (p *postgresTestContainer) GetConnectionURI(includeCredentials bool) string {
	creds := ""
	if includeCredentials {
		creds = fmt.Sprintf("%s:%s@", p.username, p.password)
	}
	return fmt.Sprintf("postgres://%s%s/defaultdb?sslmode=disable", creds, p.addr)
}

func (p *postgresTestContainer) GetUsername() string {
	return p.username
}

func (p *postgresTestContainer) GetPassword() string {
	return p.password
}
