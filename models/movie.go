package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Movie statuses. Between queued and the terminal states the status names the stage
// currently executing, which is what progress reconstruction keys off.
const (
	MovieStatusQueued           = "queued"
	MovieStatusValidating       = "validating"
	MovieStatusResearching      = "researching"
	MovieStatusScriptGenerating = "script_generating"
	MovieStatusCasting          = "casting"
	MovieStatusVideoGenerating  = "video_generating"
	MovieStatusAudioGenerating  = "audio_generating"
	MovieStatusLipSyncing       = "lip_syncing"
	MovieStatusMusicGenerating  = "music_generating"
	MovieStatusAssembling       = "assembling"
	MovieStatusCoverGenerating  = "cover_generating"
	MovieStatusFinalizing       = "finalizing"
	MovieStatusCompleted        = "completed"
	MovieStatusFailed           = "failed"
)

// Movie is the parent record of one generation run; its id is the run id.
type Movie struct {
	ID                 string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID             string     `gorm:"type:varchar(64);index" json:"userId"`
	Title              string     `json:"title"`
	Prompt             string     `gorm:"type:text" json:"prompt"`
	Style              string     `json:"style"`
	AspectRatio        string     `gorm:"type:varchar(16)" json:"aspectRatio"`
	SceneCount         int        `json:"sceneCount"`
	WithDialogue       bool       `json:"withDialogue"`
	WithMusic          bool       `json:"withMusic"`
	Status             string     `gorm:"type:varchar(32);index" json:"status"`
	Progress           int        `json:"progress"`
	CurrentStage       string     `gorm:"type:varchar(64)" json:"currentStage"`
	CurrentStageDetail string     `gorm:"type:text" json:"currentStageDetail"`
	ErrorMessage       string     `gorm:"type:text" json:"errorMessage"`
	Logline            string     `gorm:"type:text" json:"logline"`
	MusicURL           string     `json:"musicUrl"`
	Renditions         Renditions `gorm:"type:json" json:"renditions"`
	VideoURL           string     `json:"videoUrl"`
	CoverImage         string     `json:"coverImage"`
	Duration           int        `json:"duration"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func (Movie) TableName() string {
	return "movie"
}

// Terminal reports whether the run can no longer change state.
func (m *Movie) Terminal() bool {
	return m.Status == MovieStatusCompleted || m.Status == MovieStatusFailed
}

// Renditions maps a quality tier (e.g. "1080p") to the stored artifact URL.
type Renditions map[string]string

func (r Renditions) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

func (r *Renditions) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil || b == nil {
		return err
	}
	return json.Unmarshal(b, r)
}

// jsonBytes accepts what MySQL and SQLite drivers hand back for JSON columns.
func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported JSON column value %T", value)
	}
}

func CreateMovie(db *gorm.DB, m *Movie) error {
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	return db.Create(m).Error
}

func GetMovieByID(db *gorm.DB, id string) (*Movie, error) {
	var m Movie
	if err := db.First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMovie applies a partial update; updated_at is always refreshed.
func UpdateMovie(db *gorm.DB, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return db.Model(&Movie{}).Where("id = ?", id).Updates(updates).Error
}
