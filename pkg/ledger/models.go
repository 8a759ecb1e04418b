package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// IngestRecord 是一次 ingest 的审计记录
// 拒绝的请求也会记录 (ContentID 可能为空，例如摘要分支本身就失败了)
type IngestRecord struct {
	ID string `gorm:"primaryKey;type:char(36)"`

	ContentID string `gorm:"index;type:varchar(64)"`
	Code      string `gorm:"index;type:varchar(40);not null"`
	Accepted  bool   `gorm:"index"`
	// Deduplicated 表示对象对已存在，本次没有写入
	Deduplicated bool

	Origin      string `gorm:"type:varchar(16)"`
	Name        string `gorm:"type:varchar(255)"`
	ContentType string `gorm:"type:varchar(255)"`
	Size        int64

	// Hashes: {"sha256": "...", "blake3": "..."}
	Hashes datatypes.JSON
	// Signatures: ["Eicar-Test-Signature"]，只在 INFECTED_FILE 时有值
	Signatures    datatypes.JSON
	EngineVersion string `gorm:"type:varchar(255)"`

	CreatedAt time.Time `gorm:"index"`
}

// TableName 强制指定表名
func (IngestRecord) TableName() string {
	return "ingest_records"
}
