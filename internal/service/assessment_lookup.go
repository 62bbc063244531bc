package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/quillmark/quillmark-api/internal/models"
	"github.com/quillmark/quillmark-api/internal/repository"
)

// ErrAssessmentNotFound indicates the parent assessment is missing.
var ErrAssessmentNotFound = errors.New("assessment not found")

// AssessmentLookup resolves assessments by id. Assessments are read-only to
// this service, which makes them safe to cache.
type AssessmentLookup interface {
	Lookup(ctx context.Context, id uint) (models.Assessment, error)
}

type cachedAssessmentLookup struct {
	repo   repository.AssessmentRepository
	cache  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewAssessmentLookup builds a read-through cached lookup. A nil cache client
// disables caching.
func NewAssessmentLookup(repo repository.AssessmentRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) AssessmentLookup {
	return &cachedAssessmentLookup{
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "assessment_lookup").Logger(),
	}
}

func (s *cachedAssessmentLookup) Lookup(ctx context.Context, id uint) (models.Assessment, error) {
	cacheKey := fmt.Sprintf("assessment:%d", id)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var assessment models.Assessment
			if unmarshalErr := json.Unmarshal([]byte(cached), &assessment); unmarshalErr == nil {
				return assessment, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read assessment cache")
		}
	}

	assessment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assessment{}, ErrAssessmentNotFound
		}
		return models.Assessment{}, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(assessment); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.ttl).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store assessment cache")
			}
		}
	}

	return assessment, nil
}
