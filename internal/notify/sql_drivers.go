package notify

import (
	// Registers the database/sql drivers used by the sql and riverqueue
	// notifiers.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
