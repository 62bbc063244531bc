package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/quillmark/quillmark-api/internal/models"
)

// AttemptRepository defines data operations for attempts. All status
// transitions go through UpdateIfStatus: a plain read-modify-write would let
// concurrent finalizers clobber each other, so the guarded update is the only
// mutation primitive offered for lifecycle fields.
type AttemptRepository interface {
	GetByID(ctx context.Context, id string) (models.Attempt, error)
	Create(ctx context.Context, attempt *models.Attempt) error
	// UpdateIfStatus applies fields only when the stored status still equals
	// expected, and reports whether the row was won.
	UpdateIfStatus(ctx context.Context, id, expected string, fields map[string]interface{}) (bool, error)
	ListInProgress(ctx context.Context, limit int) ([]models.Attempt, error)
	ListByAssessment(ctx context.Context, assessmentID uint) ([]models.Attempt, error)
	ReleaseAllMarked(ctx context.Context, assessmentID uint, fields map[string]interface{}) (int64, error)
	UpdateColumns(ctx context.Context, id string, fields map[string]interface{}) error
}

type attemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository instantiates the repository.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

func (r *attemptRepository) GetByID(ctx context.Context, id string) (models.Attempt, error) {
	var attempt models.Attempt
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&attempt).Error; err != nil {
		return models.Attempt{}, err
	}

	return attempt, nil
}

func (r *attemptRepository) Create(ctx context.Context, attempt *models.Attempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *attemptRepository) UpdateIfStatus(ctx context.Context, id, expected string, fields map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *attemptRepository) ListInProgress(ctx context.Context, limit int) ([]models.Attempt, error) {
	var attempts []models.Attempt
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.AttemptStatusInProgress).
		Order("joined_at ASC").
		Limit(limit).
		Find(&attempts).Error; err != nil {
		return nil, err
	}

	return attempts, nil
}

func (r *attemptRepository) ListByAssessment(ctx context.Context, assessmentID uint) ([]models.Attempt, error) {
	var attempts []models.Attempt
	if err := r.db.WithContext(ctx).
		Where("assessment_id = ?", assessmentID).
		Order("joined_at ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}

	return attempts, nil
}

func (r *attemptRepository) ReleaseAllMarked(ctx context.Context, assessmentID uint, fields map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("assessment_id = ? AND status = ? AND feedback_released = ?", assessmentID, models.AttemptStatusMarked, false).
		Updates(fields)
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

func (r *attemptRepository) UpdateColumns(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ?", id).
		Updates(fields).Error
}
