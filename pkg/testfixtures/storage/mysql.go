package storage

import (
	"fmt"
	"testing"

	_ "github.com/go-sql-driver/mysql" // MySQL driver.
	"github.com/stretchr/testify/require"
)

const mySQLImage = "mysql:8"

type mySQLTestContainer struct {
	addr     string
	username string
	password string
}

// NewMySQLTestContainer returns the DatastoreTestContainer of the mysql member.
func NewMySQLTestContainer() *mySQLTestContainer {
	return &mySQLTestContainer{}
}

// RunMySQLTestContainer starts MySQL and waits until it accepts connections.
func (m *mySQLTestContainer) RunMySQLTestContainer(t testing.TB) DatastoreTestContainer {
	addr := runContainer(t, containerSpec{
		image: mySQLImage,
		env: []string{
			"MYSQL_DATABASE=defaultdb",
			"MYSQL_ROOT_PASSWORD=secret",
		},
		port: "3306/tcp",
	})

	my := &mySQLTestContainer{
		addr:     addr,
		username: "root",
		password: "secret",
	}
	require.NoError(t, waitForDatabase("mysql", my.GetConnectionURI(true)), "failed to connect to mysql container")
	return my
}

// GetConnectionURI returns the mysql DSN for the running container.
func (m *mySQLTestContainer) GetConnectionURI(includeCredentials bool) string {
	creds := ""
	if includeCredentials {
		creds = fmt.Sprintf("%s:%s@", m.username, m.password)
	}
	return fmt.Sprintf("%stcp(%s)/defaultdb?parseTime=true", creds, m.addr)
}

func (m *mySQLTestContainer) GetUsername() string {
	return m.username
}

func (m *mySQLTestContainer) GetPassword() string {
	return m.password
}
