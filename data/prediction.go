package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrPersistence = errors.New("persistence error")
	ErrNotFound    = errors.New("prediction not found")
)

// Prediction is one row of the append-only predicts table. ImageKey holds
// the object storage key of the archived scan, or NULL when scans are not
// archived.
type Prediction struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Age       int       `gorm:"not null" json:"age"`
	Gender    string    `gorm:"type:varchar(10);not null" json:"gender"`
	Contact   string    `gorm:"type:varchar(20);not null" json:"contact"`
	Condition string    `gorm:"column:condition;type:varchar(255);not null" json:"condition"`
	ImageKey  *string   `gorm:"column:image_key;type:varchar(512)" json:"image_key,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Prediction) TableName() string {
	return "predicts"
}

// BeforeCreate assigns the id client side so every supported driver
// behaves the same.
func (p *Prediction) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type PredictionRepository struct {
	db *gorm.DB
}

func NewPredictionRepository(db *gorm.DB) *PredictionRepository {
	return &PredictionRepository{
		db: db,
	}
}

// Create appends exactly one row. Rows are never updated or deleted.
func (r *PredictionRepository) Create(ctx context.Context, prediction *Prediction) error {
	if err := r.db.WithContext(ctx).Create(prediction).Error; err != nil {
		return fmt.Errorf("%w: insert prediction: %v", ErrPersistence, err)
	}
	return nil
}

func (r *PredictionRepository) FindById(ctx context.Context, id string) (*Prediction, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var prediction Prediction
	err = r.db.WithContext(ctx).First(&prediction, "id = ?", parsed).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: find prediction: %v", ErrPersistence, err)
	}
	return &prediction, nil
}

type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

const MaxPageSize = 100

// Normalize clamps the page to >= 1 and the page size to [1, MaxPageSize],
// defaulting to 20.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// FindAll lists predictions newest first.
func (r *PredictionRepository) FindAll(ctx context.Context, pagination Pagination) ([]Prediction, error) {
	pagination = pagination.Normalize()

	var predictions []Prediction
	offset := (pagination.Page - 1) * pagination.PageSize
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).
		Limit(pagination.PageSize).
		Find(&predictions).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list predictions: %v", ErrPersistence, err)
	}
	return predictions, nil
}
