package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Run is one invocation of a benchmark and the samples it published.
type Run struct {
	CreatedAt    time.Time `json:"CreatedAt" gorm:"autoCreateTime;index"`
	UpdatedAt    time.Time `json:"UpdatedAt" gorm:"autoUpdateTime"`
	UUID         string    `json:"UUID" gorm:"uniqueIndex;size:36"`
	Benchmark    string    `json:"Benchmark" gorm:"index"`
	State        string    `json:"State"`
	ArtifactPath string    `json:"ArtifactPath"`
	Samples      []Sample  `json:"Samples" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	ID           uint      `json:"ID" gorm:"primaryKey;autoIncrement"`
	Attempts     int       `json:"Attempts"`
	ExitStatus   int       `json:"ExitStatus"`
}

// Sample is a single measurement of a run.
type Sample struct {
	Timestamp time.Time `json:"Timestamp"`
	Labels    Labels    `json:"Labels" gorm:"type:text"`
	Metric    string    `json:"Metric" gorm:"index"`
	Unit      string    `json:"Unit"`
	RunURI    string    `json:"RunURI"`
	SampleURI string    `json:"SampleURI"`
	Test      string    `json:"Test"`
	ID        uint      `json:"ID" gorm:"primaryKey;autoIncrement"`
	RunID     uint      `json:"RunID" gorm:"index"`
	Value     float64   `json:"Value"`
}

// Labels is the metadata of a sample, stored as a JSON object.
type Labels map[string]string

// Value implements the driver.Valuer interface for database serialization.
func (l Labels) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (l *Labels) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("Labels Scan error: expected string or []byte, got %T", value)
	}
}

// DeleteRunsBefore deletes the runs created before cutoff, and their samples, returning the
// number of runs deleted.
func DeleteRunsBefore(db *gorm.DB, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("cutoff is required")
	}
	var deleted int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&Run{}).Where("created_at < ?", cutoff).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to find runs: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("run_id IN ?", ids).Delete(&Sample{}).Error; err != nil {
			return fmt.Errorf("failed to delete samples: %w", err)
		}
		res := tx.Where("id IN ?", ids).Delete(&Run{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete runs: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("transaction failed: %w", err)
	}
	return deleted, nil
}
