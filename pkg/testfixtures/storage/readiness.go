package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// waitForDatabase pings the database at uri until it answers or a minute has
// passed.
func waitForDatabase(driverName, uri string) error {
	db, err := sql.Open(driverName, uri)
	if err != nil {
		return fmt.Errorf("open connection to %s: %w", driverName, err)
	}
	defer db.Close()

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.MaxElapsedTime = time.Minute
	if err := backoff.Retry(db.Ping, backoffPolicy); err != nil {
		return fmt.Errorf("ping %s database: %w", driverName, err)
	}
	return nil
}
