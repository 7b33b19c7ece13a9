// Package store keeps a durable history of batches and their events.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ffbatch/task"

	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// BatchRecord is the final accounting of a finished batch.
type BatchRecord struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Total      int       `json:"total"`
	Started    int       `json:"started"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Abandoned  int       `json:"abandoned"`
	Cancelled  bool      `json:"cancelled"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	FinishedAt time.Time `gorm:"index" json:"finishedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// EventRecord is one persisted task.Event.
type EventRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	Seq        int64     `gorm:"index" json:"seq"`
	BatchID    string    `gorm:"index" json:"batchId"`
	TaskID     string    `json:"taskId,omitempty"`
	Kind       string    `json:"kind"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	OutputPath string    `json:"outputPath,omitempty"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}

// Store persists events as they are appended. It implements task.Listener.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
}

// Open connects to the sqlite database at path and migrates the schema.
func Open(path string, logger hclog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// sqlite serializes writers anyway; one connection avoids "database is locked".
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return New(db, logger)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, logger hclog.Logger) (*Store, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := db.AutoMigrate(&BatchRecord{}, &EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history tables: %w", err)
	}
	return &Store{db: db, logger: logger.Named("store")}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) OnEvent(e task.Event) {
	if err := s.db.Create(eventRecord(e)).Error; err != nil {
		s.logger.Error("failed to persist event", "batch_id", e.BatchID, "seq", e.Seq, "error", err)
	}
}

func (s *Store) OnBatchDone(e task.Event) {
	s.OnEvent(e)

	rec := BatchRecord{
		ID:         e.BatchID,
		Success:    e.Success,
		Message:    e.Message,
		FinishedAt: e.Timestamp.UTC(),
	}
	if sum := e.Summary; sum != nil {
		rec.Total = sum.Total
		rec.Started = sum.Started
		rec.Succeeded = sum.Succeeded
		rec.Failed = sum.Failed
		rec.Abandoned = sum.Abandoned
		rec.Cancelled = sum.Cancelled
	}
	if err := s.db.Save(&rec).Error; err != nil {
		s.logger.Error("failed to persist batch", "batch_id", e.BatchID, "error", err)
	}
}

// Batches returns the most recently finished batches first.
func (s *Store) Batches(ctx context.Context, limit int) ([]BatchRecord, error) {
	var out []BatchRecord
	q := s.db.WithContext(ctx).Order("finished_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Batch returns one finished batch, or task.ErrBatchNotFound.
func (s *Store) Batch(ctx context.Context, id string) (*BatchRecord, error) {
	var rec BatchRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", task.ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Events returns the persisted events of a batch in sequence order.
func (s *Store) Events(ctx context.Context, batchID string) ([]EventRecord, error) {
	var out []EventRecord
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("seq asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Prune deletes batches finished before the cutoff, and events older than it.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	before = before.UTC()
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("finished_at < ?", before).Delete(&BatchRecord{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Where("timestamp < ?", before).Delete(&EventRecord{}).Error
	})
	return removed, err
}

// RunCleanup prunes expired history until ctx is done.
func (s *Store) RunCleanup(ctx context.Context, lifetime time.Duration) {
	if lifetime <= 0 {
		return
	}
	ticker := time.NewTicker(lifetime / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("history cleanup loop shutting down")
			return
		case <-ticker.C:
			n, err := s.Prune(ctx, time.Now().Add(-lifetime))
			if err != nil {
				s.logger.Error("history cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("pruned batch history", "batches", n)
			}
		}
	}
}

func eventRecord(e task.Event) *EventRecord {
	return &EventRecord{
		Seq:        e.Seq,
		BatchID:    e.BatchID,
		TaskID:     e.TaskID,
		Kind:       string(e.Kind),
		Success:    e.Success,
		Message:    e.Message,
		OutputPath: e.OutputPath,
		Timestamp:  e.Timestamp.UTC(),
	}
}
