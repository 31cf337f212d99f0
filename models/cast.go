package models

import (
	"time"

	"gorm.io/gorm"
)

// Character is a recurring role from the screenplay, optionally with a reference portrait.
type Character struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	MovieID     string    `gorm:"type:varchar(64);index" json:"movieId"`
	Name        string    `json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	ImageURL    string    `json:"imageUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (Character) TableName() string {
	return "movie_character"
}

// Location is a researched setting the screenplay may place scenes in.
type Location struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	MovieID     string    `gorm:"type:varchar(64);index" json:"movieId"`
	Name        string    `json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (Location) TableName() string {
	return "location"
}

func BatchCreateCharacters(db *gorm.DB, characters []Character) error {
	if len(characters) == 0 {
		return nil
	}
	return db.Create(&characters).Error
}

func GetCharactersByMovieID(db *gorm.DB, movieID string) ([]Character, error) {
	var characters []Character
	err := db.Where("movie_id = ?", movieID).Order("name ASC").Find(&characters).Error
	return characters, err
}

func BatchCreateLocations(db *gorm.DB, locations []Location) error {
	if len(locations) == 0 {
		return nil
	}
	return db.Create(&locations).Error
}

func GetLocationsByMovieID(db *gorm.DB, movieID string) ([]Location, error) {
	var locations []Location
	err := db.Where("movie_id = ?", movieID).Order("name ASC").Find(&locations).Error
	return locations, err
}

// ReplaceLocations swaps the movie's locations for the given set.
func ReplaceLocations(db *gorm.DB, movieID string, locations []Location) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("movie_id = ?", movieID).Delete(&Location{}).Error; err != nil {
			return err
		}
		return BatchCreateLocations(tx, locations)
	})
}
