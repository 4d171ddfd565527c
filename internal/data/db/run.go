package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/defenseunicorns/perfkit-hub/internal/data/model"
	"github.com/defenseunicorns/perfkit-hub/internal/external"
	"github.com/defenseunicorns/perfkit-hub/internal/log"
)

// RunManager defines the interface for managing benchmark runs in the database.
type RunManager interface {
	// InsertRunSamples inserts a new Run and its associated Samples into the database.
	InsertRunSamples(ctx context.Context, dto *external.RunDTO) error
	// GetRun retrieves a Run and its associated Samples by the run's UUID.
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	// ListRuns retrieves the most recent runs of a benchmark, without their samples.
	ListRuns(ctx context.Context, benchmark string, limit int) ([]model.Run, error)
	// DeleteRunsBefore deletes the runs created before cutoff.
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormRunManager implements the RunManager interface using a GORM DB connection.
type GormRunManager struct {
	db *gorm.DB
}

// NewGormRunManager creates a new GormRunManager.
func NewGormRunManager(db *gorm.DB) (*GormRunManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormRunManager{db: db}, nil
}

// Migrate creates or updates the tables of the run and sample models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Run{}, &model.Sample{}); err != nil {
		return fmt.Errorf("failed to migrate run tables: %w", err)
	}
	return nil
}

// InsertRunSamples inserts a new Run and its associated Samples in one transaction.
func (manager *GormRunManager) InsertRunSamples(ctx context.Context, dto *external.RunDTO) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	if dto == nil {
		return fmt.Errorf("dto cannot be nil")
	}
	if dto.RunID == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	logger := log.NewLogger(ctx)
	logger.Debug("InsertRunSamples", zap.String("run_id", dto.RunID), zap.Int("samples", len(dto.Samples)))

	err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run := model.Run{
			CreatedAt:    dto.CreatedAt,
			UUID:         dto.RunID,
			Benchmark:    dto.Benchmark,
			State:        dto.State,
			ArtifactPath: dto.ArtifactPath,
			Attempts:     dto.Attempts,
			ExitStatus:   dto.ExitStatus,
		}
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("error inserting run: %w", err)
		}
		if run.ID == 0 {
			return fmt.Errorf("error inserting run the ID is 0")
		}
		if len(dto.Samples) == 0 {
			return nil
		}
		samples := make([]model.Sample, 0, len(dto.Samples))
		for i := range dto.Samples {
			s := &dto.Samples[i]
			samples = append(samples, model.Sample{
				RunID:     run.ID,
				Metric:    s.Metric,
				Value:     s.Value,
				Unit:      s.Unit,
				Labels:    model.Labels(s.Labels),
				Timestamp: s.Timestamp,
				RunURI:    s.RunURI,
				SampleURI: s.SampleURI,
				Test:      s.Test,
			})
		}
		if err := tx.CreateInBatches(samples, 100).Error; err != nil {
			return fmt.Errorf("error inserting samples: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

// GetRun retrieves a Run and its associated Samples from the database.
func (manager *GormRunManager) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	logger := log.NewLogger(ctx)
	logger.Debug("GetRun", zap.String("run_id", runID))

	var run model.Run
	err := manager.db.WithContext(ctx).
		Preload("Samples", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("uuid = ?", runID).
		First(&run).Error
	if err != nil {
		return nil, fmt.Errorf("error retrieving run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves the most recent runs of a benchmark, newest first.
func (manager *GormRunManager) ListRuns(ctx context.Context, benchmark string, limit int) ([]model.Run, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var runs []model.Run
	err := manager.db.WithContext(ctx).
		Where("benchmark = ?", benchmark).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return runs, nil
}

// DeleteRunsBefore deletes the runs created before cutoff and their samples.
func (manager *GormRunManager) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if ctx == nil {
		return 0, fmt.Errorf("ctx cannot be nil")
	}

	logger := log.NewLogger(ctx)
	deleted, err := model.DeleteRunsBefore(manager.db.WithContext(ctx), cutoff)
	if err != nil {
		return 0, err
	}
	logger.Debug("DeleteRunsBefore", zap.Time("cutoff", cutoff), zap.Int64("deleted", deleted))
	return deleted, nil
}
