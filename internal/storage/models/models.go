package models

import (
	"time"

	"gorm.io/datatypes"
)

// Document 文档主表，(kind, content_id) 唯一
type Document struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement"`
	Kind           string         `gorm:"type:varchar(16);not null;uniqueIndex:idx_documents_kind_content,priority:1"`
	ContentID      string         `gorm:"type:char(64);not null;uniqueIndex:idx_documents_kind_content,priority:2"`
	SourceFilename string         `gorm:"type:varchar(512)"`
	FileLocation   string         `gorm:"type:varchar(1024)"`
	FullText       string         `gorm:"type:longtext"`
	RawOutput      string         `gorm:"type:longtext"`
	Fields         datatypes.JSON `gorm:"type:json"`
	DocumentVector datatypes.JSON `gorm:"type:json"`
	ProcessedAt    time.Time      `gorm:"type:datetime(6);index:idx_documents_processed_at"`
	CreatedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Sections []DocumentSection `gorm:"foreignKey:DocumentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentSection 文档片段，随父记录整体替换
type DocumentSection struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement"`
	DocumentID   uint64         `gorm:"not null;index:idx_sections_document_idx,priority:1"`
	ContentID    string         `gorm:"type:char(64);not null;index"`
	SectionIndex int            `gorm:"not null;index:idx_sections_document_idx,priority:2"`
	Label        string         `gorm:"type:varchar(255)"`
	Text         string         `gorm:"type:mediumtext"`
	Embedding    datatypes.JSON `gorm:"type:json"`
	PointID      *string        `gorm:"type:char(36)"` // Qdrant point id，未向量化时为空
	CreatedAt    time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (DocumentSection) TableName() string {
	return "document_sections"
}
