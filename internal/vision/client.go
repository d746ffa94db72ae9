package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/erarta/api.c0r.ai/internal/config"
	"github.com/erarta/api.c0r.ai/internal/domain"
)

const op = "analyze photo"

// Analyzer turns a readable photo URL into a nutrition estimate.
type Analyzer interface {
	Analyze(ctx context.Context, imageURL string) (domain.NutritionEstimate, error)
}

type Client struct {
	http   *resty.Client
	url    string
	apiKey string
	log    *zap.Logger
}

var _ Analyzer = (*Client)(nil)

func NewClient(cfg *config.VisionConfig, log *zap.Logger) *Client {
	client := resty.New()
	client.SetHeader("User-Agent", "c0r-analyze-api/1.0")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &Client{
		http:   client,
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		log:    log,
	}
}

type analyzeRequest struct {
	ImageURL string `json:"image_url"`
}

// All fields are pointers so a missing value can be told apart from a zero.
type kbzhuPayload struct {
	Calories *float64 `json:"calories"`
	Protein  *float64 `json:"protein"`
	Fats     *float64 `json:"fats"`
	Carbs    *float64 `json:"carbs"`
}

type analyzeResponse struct {
	KBZHU *kbzhuPayload `json:"kbzhu"`
}

func (c *Client) Analyze(ctx context.Context, imageURL string) (domain.NutritionEstimate, error) {
	if c.apiKey == "" {
		return domain.NutritionEstimate{}, domain.NewError(domain.KindVisionService, op, errors.New("VISION_API_KEY is not set"))
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(analyzeRequest{ImageURL: imageURL}).
		Post(c.url)
	if err != nil {
		return domain.NutritionEstimate{}, domain.NewError(domain.KindVisionService, op, fmt.Errorf("failed to call vision API: %w", err))
	}

	if !resp.IsSuccess() {
		c.log.Warn("Vision API rejected request",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return domain.NutritionEstimate{}, domain.NewUpstreamError(domain.KindVisionService, op, resp.StatusCode(), resp.String())
	}

	return parseEstimate(resp.Body())
}

func parseEstimate(body []byte) (domain.NutritionEstimate, error) {
	var parsed analyzeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.NutritionEstimate{}, domain.NewError(domain.KindVisionResponseMalformed, op, fmt.Errorf("decode response: %w", err))
	}
	if parsed.KBZHU == nil {
		return domain.NutritionEstimate{}, domain.NewError(domain.KindVisionResponseMalformed, op, errors.New("no kbzhu in vision response"))
	}

	k := parsed.KBZHU
	missing := make([]string, 0, 4)
	if k.Calories == nil {
		missing = append(missing, "calories")
	}
	if k.Protein == nil {
		missing = append(missing, "protein")
	}
	if k.Fats == nil {
		missing = append(missing, "fats")
	}
	if k.Carbs == nil {
		missing = append(missing, "carbs")
	}
	if len(missing) > 0 {
		return domain.NutritionEstimate{}, domain.NewError(domain.KindVisionResponseMalformed, op, fmt.Errorf("kbzhu is missing %v", missing))
	}

	estimate := domain.NutritionEstimate{
		Calories: *k.Calories,
		Protein:  *k.Protein,
		Fats:     *k.Fats,
		Carbs:    *k.Carbs,
	}
	if err := estimate.Validate(); err != nil {
		return domain.NutritionEstimate{}, domain.NewError(domain.KindVisionResponseMalformed, op, err)
	}

	return estimate, nil
}
