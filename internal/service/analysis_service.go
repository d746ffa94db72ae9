package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erarta/api.c0r.ai/internal/domain"
	"github.com/erarta/api.c0r.ai/internal/metrics"
	"github.com/erarta/api.c0r.ai/internal/repository"
	"github.com/erarta/api.c0r.ai/internal/vision"
	"github.com/erarta/api.c0r.ai/pkg/utils"
)

// Step names, in execution order.
const (
	StepStore   = "store"
	StepSignURL = "sign_url"
	StepAnalyze = "analyze"
	StepRecord  = "record"
)

type AnalysisService interface {
	Analyze(ctx context.Context, userID string, image domain.UploadedImage) (domain.NutritionEstimate, error)
}

// StepError tells which step of the analysis failed; the cause keeps its domain kind.
type StepError struct {
	Step     string
	ObjectID string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s (object %s): %v", e.Step, e.ObjectID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type analysisService struct {
	store    repository.PhotoStore
	analyzer vision.Analyzer
	recorder repository.UsageRecorder
	log      *zap.Logger
	newID    func() string
}

type Option func(*analysisService)

// WithIDGenerator replaces the random object id source.
func WithIDGenerator(fn func() string) Option {
	return func(s *analysisService) {
		s.newID = fn
	}
}

func NewAnalysisService(store repository.PhotoStore, analyzer vision.Analyzer, recorder repository.UsageRecorder, log *zap.Logger, opts ...Option) AnalysisService {
	s := &analysisService{
		store:    store,
		analyzer: analyzer,
		recorder: recorder,
		log:      log,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze runs store, sign, analyze and record strictly in order and stops at the first failure.
func (s *analysisService) Analyze(ctx context.Context, userID string, image domain.UploadedImage) (domain.NutritionEstimate, error) {
	image.MediaType = utils.DetectMediaType(image.Data, image.MediaType, image.Filename)
	if !utils.IsImage(image.MediaType) {
		s.log.Warn("Uploaded photo does not look like an image",
			zap.String("user_id", userID),
			zap.String("content_type", image.MediaType))
	}

	objectID := s.newID()

	var ref domain.StorageReference
	err := s.step(StepStore, objectID, func() (err error) {
		ref, err = s.store.Store(ctx, image, objectID)
		return err
	})
	if err != nil {
		return domain.NutritionEstimate{}, err
	}

	var readURL string
	err = s.step(StepSignURL, objectID, func() (err error) {
		readURL, err = s.store.IssueReadURL(ctx, objectID)
		return err
	})
	if err != nil {
		return domain.NutritionEstimate{}, err
	}

	var estimate domain.NutritionEstimate
	err = s.step(StepAnalyze, objectID, func() (err error) {
		estimate, err = s.analyzer.Analyze(ctx, readURL)
		return err
	})
	if err != nil {
		return domain.NutritionEstimate{}, err
	}

	err = s.step(StepRecord, objectID, func() error {
		return s.recorder.Record(ctx, userID, objectID, estimate)
	})
	if err != nil {
		return domain.NutritionEstimate{}, err
	}

	s.log.Info("Photo analyzed",
		zap.String("user_id", userID),
		zap.String("object_id", objectID),
		zap.String("reference", string(ref)),
		zap.Float64("calories", estimate.Calories))

	return estimate, nil
}

func (s *analysisService) step(name, objectID string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.StepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return &StepError{Step: name, ObjectID: objectID, Err: err}
	}
	return nil
}
