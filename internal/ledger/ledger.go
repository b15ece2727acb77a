// Package ledger persists a history of distributed-build job outcomes
// (SPEC_FULL.md's domain-stack addition: a durable record of what
// happened to each job beyond the in-memory JobSource, mirroring the
// teacher's db/common-db pattern of a gorm-backed result table opened
// against either postgres or an in-memory sqlite). Grounded on
// common/db/db.go's NewDB (dialect selection + AutoMigrate-on-open) and
// db/models/testing_result.go's pq.Int64Array verdict-list column,
// adapted here to record the ordered worker-table indices a job
// system-errored on.
package ledger

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/InSimo/fastbuild/internal/config"
	"github.com/InSimo/fastbuild/internal/logger"
	"github.com/InSimo/fastbuild/internal/procgroup"
)

// JobRecord is one terminal job outcome (spec.md §4.E: a job is either a
// remote/local success, a genuine build failure, or exhausts its
// system-error retry budget).
type JobRecord struct {
	gorm.Model

	NodeName string `gorm:"index"`
	Success  bool

	// Remote reports whether the committed result came from a worker
	// (as opposed to a local fallback build).
	Remote bool

	BuildTimeMS uint64

	// SystemErrorWorkers is the ordered list of ServerState table
	// indices the job system-errored on before its eventual outcome,
	// per spec.md §4.E's "blacklist up to MaxSystemErrorRetries workers
	// before giving up." Empty when the job succeeded or failed on its
	// first attempt.
	SystemErrorWorkers pq.Int64Array `gorm:"type:bigint[]"`
}

// Ledger is a thin wrapper over the opened gorm handle.
type Ledger struct {
	db *gorm.DB
}

// Open dials the configured database and migrates JobRecord into it.
// cfg.InMemory selects an ephemeral sqlite database (tests, local demo
// runs); otherwise cfg.Dsn is opened as postgres.
func Open(cfg config.DBConfig) (*Ledger, error) {
	var (
		db  *gorm.DB
		err error
	)
	if cfg.InMemory {
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	} else {
		db, err = gorm.Open(postgres.Open(cfg.Dsn), &gorm.Config{})
	}
	if err != nil {
		return nil, logger.Error("ledger: open database (dsn=%q, inMemory=%v): %w", cfg.Dsn, cfg.InMemory, err)
	}
	if err := db.AutoMigrate(&JobRecord{}); err != nil {
		return nil, logger.Error("ledger: migrate JobRecord: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record inserts one terminal job outcome.
func (l *Ledger) Record(rec JobRecord) error {
	if err := l.db.Create(&rec).Error; err != nil {
		return logger.Error("ledger: insert job record for %s: %w", rec.NodeName, err)
	}
	return nil
}

// RecordAsync fires Record on group's lifecycle without blocking the
// caller, logging (not propagating) any write failure — job history is
// diagnostic, never load-bearing for build correctness.
func RecordAsync(group *procgroup.Group, l *Ledger, rec JobRecord) {
	group.Go(func() {
		if err := l.Record(rec); err != nil {
			logger.Warn("ledger: async record failed: %v", err)
		}
	})
}

// RecentFailures returns the most recent failed JobRecords, newest
// first, for admin-API reporting.
func (l *Ledger) RecentFailures(limit int) ([]JobRecord, error) {
	var recs []JobRecord
	err := l.db.Where("success = ?", false).Order("created_at desc").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, logger.Error("ledger: query recent failures: %w", err)
	}
	return recs, nil
}

// WorkerFailureCounts aggregates, over the last `since` window, how many
// times each worker-table index appears in SystemErrorWorkers — a cheap
// signal for "this worker keeps system-erroring jobs."
func (l *Ledger) WorkerFailureCounts(since time.Time) (map[int64]int, error) {
	var recs []JobRecord
	err := l.db.Where("created_at >= ?", since).Find(&recs).Error
	if err != nil {
		return nil, logger.Error("ledger: query worker failure counts: %w", err)
	}
	counts := make(map[int64]int)
	for _, rec := range recs {
		for _, idx := range rec.SystemErrorWorkers {
			counts[idx]++
		}
	}
	return counts, nil
}
