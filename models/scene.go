package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SceneStatusPending    = "pending"
	SceneStatusProcessing = "processing"
	SceneStatusCompleted  = "completed"
	SceneStatusFailed     = "failed"
)

type Scene struct {
	ID             string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	MovieID        string    `gorm:"type:varchar(64);index" json:"movieId"`
	Ordinal        int       `json:"ordinal"`
	Title          string    `json:"title"`
	Description    string    `gorm:"type:text" json:"description"`
	VisualPrompt   string    `gorm:"type:text" json:"visualPrompt"`
	Dialogue       string    `gorm:"type:text" json:"dialogue"`
	Speaker        string    `json:"speaker"`
	CharacterID    string    `gorm:"type:varchar(64)" json:"characterId"`
	Location       string    `json:"location"`
	ReferenceImage string    `json:"referenceImage"`
	Duration       int       `json:"duration"`
	Status         string    `gorm:"type:varchar(32)" json:"status"`
	VideoURL       string    `json:"videoUrl"`
	AudioURL       string    `json:"audioUrl"`
	LipSyncURL     string    `json:"lipSyncUrl"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

// HasDialogue reports whether the scene needs voice and lip-sync work.
func (s *Scene) HasDialogue() bool {
	return s.Dialogue != ""
}

func BatchCreateScenes(db *gorm.DB, scenes []Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	return db.Create(&scenes).Error
}

func GetScenesByMovieID(db *gorm.DB, movieID string) ([]Scene, error) {
	var scenes []Scene
	if err := db.Where("movie_id = ?", movieID).Order("ordinal ASC").Find(&scenes).Error; err != nil {
		return nil, err
	}
	return scenes, nil
}

func (s *Scene) Update(db *gorm.DB, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return db.Model(s).Updates(updates).Error
}

// ReplaceScreenplay swaps the movie's characters and scenes for a new screenplay.
func ReplaceScreenplay(db *gorm.DB, movieID string, characters []Character, scenes []Scene) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("movie_id = ?", movieID).Delete(&Scene{}).Error; err != nil {
			return err
		}
		if err := tx.Where("movie_id = ?", movieID).Delete(&Character{}).Error; err != nil {
			return err
		}
		if err := BatchCreateCharacters(tx, characters); err != nil {
			return err
		}
		return BatchCreateScenes(tx, scenes)
	})
}
