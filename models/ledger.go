package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Overall run statuses as exposed by the progress ledger.
const (
	RunStatusQueued     = "queued"
	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

const (
	StageStatusPending   = "pending"
	StageStatusRunning   = "running"
	StageStatusCompleted = "completed"
	StageStatusFailed    = "failed"
)

type StageRecord struct {
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Detail    string    `json:"detail"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorEntry is append-only: entries are never edited or removed once written.
type ErrorEntry struct {
	Stage       string    `json:"stage"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

type LedgerStats struct {
	TotalScenes     int        `json:"total_scenes"`
	ScenesCompleted int        `json:"scenes_completed"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// LedgerDocument is the JSON progress document stored per run.
type LedgerDocument struct {
	OverallStatus      string                  `json:"overall_status"`
	OverallProgress    int                     `json:"overall_progress"`
	CurrentStage       string                  `json:"current_stage"`
	CurrentStageDetail string                  `json:"current_stage_detail"`
	StageOrder         []string                `json:"stage_order"`
	Stages             map[string]*StageRecord `json:"stages"`
	Stats              LedgerStats             `json:"stats"`
	Errors             []ErrorEntry            `json:"errors"`
}

func (d LedgerDocument) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *LedgerDocument) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil || b == nil {
		return err
	}
	return json.Unmarshal(b, d)
}

type ProgressLedger struct {
	RunID     string         `gorm:"primaryKey;type:varchar(64)" json:"runId"`
	Document  LedgerDocument `gorm:"type:json" json:"document"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (ProgressLedger) TableName() string {
	return "progress_ledger"
}

func GetProgressLedger(db *gorm.DB, runID string) (*ProgressLedger, error) {
	var l ProgressLedger
	if err := db.First(&l, "run_id = ?", runID).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// SaveProgressLedger upserts the whole document keyed by run id.
func SaveProgressLedger(db *gorm.DB, l *ProgressLedger) error {
	now := time.Now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(l).Error
}
