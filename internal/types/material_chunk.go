package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MaterialChunk mirrors what was upserted into the vector store for one
// material. Rows are replaced as a unit whenever the material is reprocessed.
type MaterialChunk struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MaterialID uuid.UUID      `gorm:"type:uuid;not null;index" json:"material_id"`
	Material   *Material      `gorm:"constraint:OnDelete:CASCADE;foreignKey:MaterialID;references:ID" json:"material,omitempty"`
	ChapterID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"chapter_id"`
	Index      int            `gorm:"column:index;not null" json:"index"`
	Text       string         `gorm:"column:text;not null" json:"text"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (MaterialChunk) TableName() string { return "material_chunk" }
