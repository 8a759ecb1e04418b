package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vaultgate/pkg/types"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("ingest record not found")

// Entry 是写入账本的领域数据
type Entry struct {
	ContentID     string
	Code          string
	Accepted      bool
	Deduplicated  bool
	Origin        string
	Name          string
	ContentType   string
	Size          int64
	Hashes        map[types.Algorithm]string
	Signatures    []string
	EngineVersion string
	At            time.Time
}

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Record 追加一条记录，返回记录 ID
func (r *Repository) Record(ctx context.Context, e Entry) (string, error) {
	hashes, err := json.Marshal(e.Hashes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal hashes: %w", err)
	}
	sigs := e.Signatures
	if sigs == nil {
		sigs = []string{}
	}
	sigsJSON, err := json.Marshal(sigs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal signatures: %w", err)
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	rec := IngestRecord{
		ID:            uuid.NewString(),
		ContentID:     e.ContentID,
		Code:          e.Code,
		Accepted:      e.Accepted,
		Deduplicated:  e.Deduplicated,
		Origin:        e.Origin,
		Name:          e.Name,
		ContentType:   e.ContentType,
		Size:          e.Size,
		Hashes:        datatypes.JSON(hashes),
		Signatures:    datatypes.JSON(sigsJSON),
		EngineVersion: e.EngineVersion,
		CreatedAt:     at.UTC(),
	}
	if err := r.db.GetConn().WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("failed to record ingest: %w", err)
	}
	return rec.ID, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*IngestRecord, error) {
	var rec IngestRecord
	err := r.db.GetConn().WithContext(ctx).
		Where("id = ?", id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByContent 按时间倒序返回某个内容的全部记录
func (r *Repository) ListByContent(ctx context.Context, contentID string, limit int) ([]IngestRecord, error) {
	var recs []IngestRecord
	q := r.db.GetConn().WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&recs).Error
	return recs, err
}

// CountByCode 统计各结果码的数量
func (r *Repository) CountByCode(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Code  string
		Count int64
	}
	err := r.db.GetConn().WithContext(ctx).
		Model(&IngestRecord{}).
		Select("code, count(*) as count").
		Group("code").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Code] = row.Count
	}
	return out, nil
}
