package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erarta/api.c0r.ai/internal/domain"
	"github.com/erarta/api.c0r.ai/internal/service"
)

// MockPhotoStore records calls into a shared journal.
type MockPhotoStore struct {
	calls            *[]string
	StoreFunc        func(ctx context.Context, image domain.UploadedImage, objectID string) (domain.StorageReference, error)
	IssueReadURLFunc func(ctx context.Context, objectID string) (string, error)
}

func (m *MockPhotoStore) Store(ctx context.Context, image domain.UploadedImage, objectID string) (domain.StorageReference, error) {
	*m.calls = append(*m.calls, "store")
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, image, objectID)
	}
	return domain.StorageReference("s3://" + objectID), nil
}

func (m *MockPhotoStore) IssueReadURL(ctx context.Context, objectID string) (string, error) {
	*m.calls = append(*m.calls, "sign")
	if m.IssueReadURLFunc != nil {
		return m.IssueReadURLFunc(ctx, objectID)
	}
	return "https://photos.example.com/" + objectID, nil
}

type MockAnalyzer struct {
	calls       *[]string
	AnalyzeFunc func(ctx context.Context, imageURL string) (domain.NutritionEstimate, error)
}

func (m *MockAnalyzer) Analyze(ctx context.Context, imageURL string) (domain.NutritionEstimate, error) {
	*m.calls = append(*m.calls, "analyze")
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, imageURL)
	}
	return domain.NutritionEstimate{Calories: 500, Protein: 30, Fats: 20, Carbs: 40}, nil
}

type MockRecorder struct {
	calls      *[]string
	RecordFunc func(ctx context.Context, userID, photoReference string, estimate domain.NutritionEstimate) error
}

func (m *MockRecorder) Record(ctx context.Context, userID, photoReference string, estimate domain.NutritionEstimate) error {
	*m.calls = append(*m.calls, "record")
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, userID, photoReference, estimate)
	}
	return nil
}

type fixture struct {
	calls    []string
	store    *MockPhotoStore
	analyzer *MockAnalyzer
	recorder *MockRecorder
}

func newFixture() *fixture {
	f := &fixture{}
	f.store = &MockPhotoStore{calls: &f.calls}
	f.analyzer = &MockAnalyzer{calls: &f.calls}
	f.recorder = &MockRecorder{calls: &f.calls}
	return f
}

func (f *fixture) service() service.AnalysisService {
	return service.NewAnalysisService(f.store, f.analyzer, f.recorder, zap.NewNop(),
		service.WithIDGenerator(func() string { return "U1" }))
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func TestAnalyze_RunsStepsInOrder(t *testing.T) {
	f := newFixture()

	var storedID, storedType, signedID, analyzedURL, recordedUser, recordedRef string
	f.store.StoreFunc = func(_ context.Context, image domain.UploadedImage, objectID string) (domain.StorageReference, error) {
		storedID, storedType = objectID, image.MediaType
		return "s3://" + domain.StorageReference(objectID), nil
	}
	f.store.IssueReadURLFunc = func(_ context.Context, objectID string) (string, error) {
		signedID = objectID
		return "https://signed.example.com/U1?sig=abc", nil
	}
	f.analyzer.AnalyzeFunc = func(_ context.Context, imageURL string) (domain.NutritionEstimate, error) {
		analyzedURL = imageURL
		return domain.NutritionEstimate{Calories: 500, Protein: 30, Fats: 20, Carbs: 40}, nil
	}
	f.recorder.RecordFunc = func(_ context.Context, userID, photoReference string, _ domain.NutritionEstimate) error {
		recordedUser, recordedRef = userID, photoReference
		return nil
	}

	estimate, err := f.service().Analyze(context.Background(), "42", domain.UploadedImage{Data: pngBytes})
	require.NoError(t, err)

	assert.Equal(t, []string{"store", "sign", "analyze", "record"}, f.calls)
	assert.Equal(t, domain.NutritionEstimate{Calories: 500, Protein: 30, Fats: 20, Carbs: 40}, estimate)
	assert.Equal(t, "U1", storedID)
	assert.Equal(t, "image/png", storedType)
	assert.Equal(t, "U1", signedID)
	assert.Equal(t, "https://signed.example.com/U1?sig=abc", analyzedURL)
	assert.Equal(t, "42", recordedUser)
	assert.Equal(t, "U1", recordedRef)
}

func TestAnalyze_ShortCircuits(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture)
		wantCalls []string
		wantKind  domain.Kind
		wantStep  string
	}{
		{
			name: "storage unavailable",
			setup: func(f *fixture) {
				f.store.StoreFunc = func(context.Context, domain.UploadedImage, string) (domain.StorageReference, error) {
					return "", domain.NewError(domain.KindStorageUnavailable, "store photo", errors.New("no bucket"))
				}
			},
			wantCalls: []string{"store"},
			wantKind:  domain.KindStorageUnavailable,
			wantStep:  service.StepStore,
		},
		{
			name: "url issuance fails",
			setup: func(f *fixture) {
				f.store.IssueReadURLFunc = func(context.Context, string) (string, error) {
					return "", domain.NewError(domain.KindStorageUnavailable, "issue read url", errors.New("presign"))
				}
			},
			wantCalls: []string{"store", "sign"},
			wantKind:  domain.KindStorageUnavailable,
			wantStep:  service.StepSignURL,
		},
		{
			name: "malformed vision response",
			setup: func(f *fixture) {
				f.analyzer.AnalyzeFunc = func(context.Context, string) (domain.NutritionEstimate, error) {
					return domain.NutritionEstimate{}, domain.NewError(domain.KindVisionResponseMalformed, "analyze photo", errors.New("no kbzhu"))
				}
			},
			wantCalls: []string{"store", "sign", "analyze"},
			wantKind:  domain.KindVisionResponseMalformed,
			wantStep:  service.StepAnalyze,
		},
		{
			name: "credit update fails",
			setup: func(f *fixture) {
				f.recorder.RecordFunc = func(context.Context, string, string, domain.NutritionEstimate) error {
					return domain.NewUpstreamError(domain.KindCreditUpdate, "decrement credits", 500, "boom")
				}
			},
			wantCalls: []string{"store", "sign", "analyze", "record"},
			wantKind:  domain.KindCreditUpdate,
			wantStep:  service.StepRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			_, err := f.service().Analyze(context.Background(), "42", domain.UploadedImage{Data: pngBytes, MediaType: "image/png"})
			require.Error(t, err)

			assert.Equal(t, tt.wantCalls, f.calls)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))

			var stepErr *service.StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.wantStep, stepErr.Step)
			assert.Equal(t, "U1", stepErr.ObjectID)
		})
	}
}

func TestAnalyze_GeneratesFreshIDs(t *testing.T) {
	f := newFixture()
	var ids []string
	f.store.StoreFunc = func(_ context.Context, _ domain.UploadedImage, objectID string) (domain.StorageReference, error) {
		ids = append(ids, objectID)
		return domain.StorageReference("s3://" + objectID), nil
	}
	svc := service.NewAnalysisService(f.store, f.analyzer, f.recorder, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := svc.Analyze(context.Background(), "42", domain.UploadedImage{Data: pngBytes})
		require.NoError(t, err)
	}

	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1])
}
