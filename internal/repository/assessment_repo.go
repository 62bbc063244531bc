package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/quillmark/quillmark-api/internal/models"
)

// AssessmentRepository reads assessment records. This service never writes
// them; their lifecycle belongs to the authoring application.
type AssessmentRepository interface {
	GetByID(ctx context.Context, id uint) (models.Assessment, error)
	GetByJoinCode(ctx context.Context, code string) (models.Assessment, error)
}

type assessmentRepository struct {
	db *gorm.DB
}

// NewAssessmentRepository instantiates the repository.
func NewAssessmentRepository(db *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: db}
}

func (r *assessmentRepository) GetByID(ctx context.Context, id uint) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).First(&assessment, id).Error; err != nil {
		return models.Assessment{}, err
	}

	return assessment, nil
}

func (r *assessmentRepository) GetByJoinCode(ctx context.Context, code string) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).
		Where("join_code = ?", code).
		First(&assessment).Error; err != nil {
		return models.Assessment{}, err
	}

	return assessment, nil
}
