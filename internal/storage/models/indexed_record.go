package models

import (
	"time"

	"gorm.io/datatypes"
)

// IndexedRecord 已写入向量库的记录目录，每个 (collection, point_id) 一行
type IndexedRecord struct {
	ID               uint           `gorm:"primaryKey;autoIncrement"`
	PointID          string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_ir_collection_point"`
	Collection       string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_ir_collection_point;index:idx_ir_collection"`
	Kind             string         `gorm:"type:varchar(32);index:idx_ir_kind"`
	NaturalKey       string         `gorm:"type:varchar(512)"` // 源文件名等，可为空
	AggregateContent string         `gorm:"type:text"`
	AggregateObject  string         `gorm:"type:varchar(1024)"` // MinIO 中聚合文本的对象名
	Payload          datatypes.JSON `gorm:"type:json"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (IndexedRecord) TableName() string {
	return "indexed_records"
}
