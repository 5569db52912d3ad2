package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"buildhook/internal"
)

// riverQueueNotifier inserts notifications directly into a river job
// table, so a river worker pool can process outcomes without a broker in
// between.
type riverQueueNotifier struct {
	db  *sql.DB
	cfg internal.RiverQueueConfig
}

func newRiverQueueNotifier(cfg internal.RiverQueueConfig) (*riverQueueNotifier, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	if cfg.DSN == "" {
		return nil, errors.New("riverqueue dsn is required")
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &riverQueueNotifier{db: db, cfg: cfg}, nil
}

func (p *riverQueueNotifier) Publish(ctx context.Context, topic string, n Notification) error {
	args, err := riverArgs(n)
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(map[string]interface{}{
		"topic": topic,
		"kind":  n.Kind,
		"job":   n.Job,
	})
	if err != nil {
		return err
	}

	table := strings.TrimSpace(p.cfg.Table)
	if table == "" {
		table = "river_job"
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (args, kind, max_attempts, metadata, priority, queue, scheduled_at, tags)
VALUES ($1, $2, $3, $4, $5, $6, now(), $7)`,
		table,
	)

	_, err = p.db.ExecContext(
		ctx,
		query,
		string(args),
		p.cfg.Kind,
		p.cfg.MaxAttempts,
		string(metadata),
		p.cfg.Priority,
		p.cfg.Queue,
		pq.Array(p.cfg.Tags),
	)
	return err
}

// riverArgs encodes the job args column. The whole notification is the
// args value; the raw webhook payload rides along inside it, so workers
// decode one shape regardless of which event produced the outcome.
func riverArgs(n Notification) ([]byte, error) {
	return json.Marshal(n)
}

func (p *riverQueueNotifier) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
