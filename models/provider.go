package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProviderBinding selects which provider serves a capability. Only administrative
// configuration writes it; the pipeline reads it.
type ProviderBinding struct {
	Capability         string    `gorm:"primaryKey;type:varchar(32)" json:"capability"`
	PrimaryProviderID  string    `gorm:"type:varchar(64)" json:"primaryProviderId"`
	FallbackProviderID string    `gorm:"type:varchar(64)" json:"fallbackProviderId,omitempty"`
	SimulationMode     bool      `json:"simulationMode"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (ProviderBinding) TableName() string {
	return "provider_binding"
}

// ProviderCredential holds the connection details of one provider. SealedKey is the
// API key sealed by the provider keyring; it is never returned by the API.
type ProviderCredential struct {
	ProviderID string    `gorm:"primaryKey;type:varchar(64)" json:"providerId"`
	Endpoint   string    `json:"endpoint"`
	Model      string    `json:"model"`
	SealedKey  string    `gorm:"type:text" json:"-"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (ProviderCredential) TableName() string {
	return "provider_credential"
}

func ListProviderBindings(db *gorm.DB) ([]ProviderBinding, error) {
	var bindings []ProviderBinding
	err := db.Order("capability ASC").Find(&bindings).Error
	return bindings, err
}

func GetProviderCredential(db *gorm.DB, providerID string) (*ProviderCredential, error) {
	var c ProviderCredential
	if err := db.First(&c, "provider_id = ?", providerID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func UpsertProviderBinding(db *gorm.DB, b *ProviderBinding) error {
	b.UpdatedAt = time.Now()
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(b).Error
}

func UpsertProviderCredential(db *gorm.DB, c *ProviderCredential) error {
	c.UpdatedAt = time.Now()
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(c).Error
}
