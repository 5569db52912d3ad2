// Package store keeps an audit trail of auto-created branch jobs so
// operators can see which jobs this system owns and when their branch
// went away.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"buildhook/internal"
)

// CloneRecord is one auto-created job.
type CloneRecord struct {
	Job        string
	Repository string
	Branch     string
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

// Store implements the clone audit trail on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	Job        string     `gorm:"column:job;size:255;not null;uniqueIndex"`
	Repository string     `gorm:"column:repository;size:512;not null"`
	Branch     string     `gorm:"column:branch;size:255;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	DeletedAt  *time.Time `gorm:"column:deleted_at"`
}

// Open connects the audit store.
func Open(cfg internal.StorageConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := normalizeDriver(cfg.Dialect)
	if driver == "" {
		return nil, errors.New("unsupported storage dialect")
	}
	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = "buildhook_clones"
	}
	store := &Store{db: gormDB, table: table}
	if cfg.AutoMigrate {
		if err := store.tableDB().AutoMigrate(&row{}); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordCreated registers a freshly cloned job. Re-creating a job whose
// branch came back clears the deletion timestamp.
func (s *Store) RecordCreated(ctx context.Context, job, repository, branch string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if job == "" {
		return errors.New("job is required")
	}
	data := row{
		Job:        job,
		Repository: repository,
		Branch:     branch,
		CreatedAt:  time.Now().UTC(),
	}
	return s.tableDB().
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job"}},
			DoUpdates: clause.AssignmentColumns([]string{"repository", "branch", "created_at", "deleted_at"}),
		}).
		Create(&data).Error
}

// MarkDeleted stamps the job's audit record with the deletion time.
// Unknown jobs are ignored: manual deletions happen outside this system.
func (s *Store) MarkDeleted(ctx context.Context, job string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	now := time.Now().UTC()
	return s.tableDB().
		WithContext(ctx).
		Where("job = ?", job).
		Update("deleted_at", &now).Error
}

// Lookup fetches the audit record for one job, nil when absent.
func (s *Store) Lookup(ctx context.Context, job string) (*CloneRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data row
	err := s.tableDB().
		WithContext(ctx).
		Where("job = ?", job).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromRow(data)
	return &record, nil
}

// WasCreated reports whether the job has an audit record, regardless of
// whether its branch was deleted since. The lifecycle uses this as the
// secondary guard before removing a marked job.
func (s *Store) WasCreated(ctx context.Context, job string) (bool, error) {
	record, err := s.Lookup(ctx, job)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// ListActive lists clones whose branch has not been deleted yet.
func (s *Store) ListActive(ctx context.Context) ([]CloneRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data []row
	err := s.tableDB().
		WithContext(ctx).
		Where("deleted_at IS NULL").
		Order("created_at").
		Find(&data).Error
	if err != nil {
		return nil, err
	}
	records := make([]CloneRecord, 0, len(data))
	for _, item := range data {
		records = append(records, fromRow(item))
	}
	return records, nil
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func fromRow(data row) CloneRecord {
	return CloneRecord{
		Job:        data.Job,
		Repository: data.Repository,
		Branch:     data.Branch,
		CreatedAt:  data.CreatedAt,
		DeletedAt:  data.DeletedAt,
	}
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, errors.New("unsupported storage dialect")
	}
}
