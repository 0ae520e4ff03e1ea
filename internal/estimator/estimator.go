// Package estimator asks a language model for calorie estimates of meals,
// described either in text or in a photo, and for meal suggestions.
package estimator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/bborn/textline/internal/models"
)

// Image is a photo attached to a prompt
type Image struct {
	Data      []byte
	MediaType string
}

// DataURL encodes the image as a data: URL
func (i Image) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.base64()
}

func (i Image) base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Provider sends one system+user prompt to a model and returns its text
type Provider interface {
	Complete(ctx context.Context, system, user string, image *Image) (string, error)
}

type Estimator struct {
	provider Provider
}

func New(provider Provider) *Estimator {
	return &Estimator{provider: provider}
}

const estimatePrompt = `You are a nutrition assistant that estimates calories.
Reply with JSON only, no prose and no code fences, in exactly this shape:
{"items":[{"name":"food","calories":123,"portion":"1 cup"}],"total_calories":123,"confidence":"high|medium|low","notes":"short note"}
Use typical restaurant or home portions when the portion is not given.
Calories are whole numbers. total_calories is the sum of the items.
Use "low" confidence when the description or photo is vague.`

const suggestPrompt = `You are a nutrition assistant replying by SMS.
Suggest two or three specific meals or snacks that fit the calorie budget.
Keep the whole reply under 400 characters, plain text, no markdown.`

// EstimateFromText estimates calories for a meal description
func (e *Estimator) EstimateFromText(ctx context.Context, description string) (*models.Estimate, error) {
	raw, err := e.provider.Complete(ctx, estimatePrompt, "Estimate calories for: "+description, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate calories: %w", err)
	}
	return ParseEstimate(raw), nil
}

// EstimateFromImage estimates calories for a photo of food. note is the
// optional text sent with the photo.
func (e *Estimator) EstimateFromImage(ctx context.Context, data []byte, mediaType, note string) (*models.Estimate, error) {
	user := "Estimate calories for the food in this photo."
	if note != "" {
		user += " The sender says: " + note
	}
	raw, err := e.provider.Complete(ctx, estimatePrompt, user, &Image{Data: data, MediaType: mediaType})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate calories from image: %w", err)
	}
	return ParseEstimate(raw), nil
}

// Suggest asks for meal ideas within the remaining calories for the day
func (e *Estimator) Suggest(ctx context.Context, calories int, descriptors string) (string, error) {
	user := fmt.Sprintf("I have %d calories left today.", calories)
	if descriptors != "" {
		user += " I'd like something " + descriptors + "."
	}
	text, err := e.provider.Complete(ctx, suggestPrompt, user, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get suggestions: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// ParseEstimate decodes a model reply. Replies that are not the expected
// JSON come back with Success false and the raw text.
func ParseEstimate(raw string) *models.Estimate {
	failed := &models.Estimate{Success: false, RawResponse: raw}

	body := stripFences(raw)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return failed
	}

	var est models.Estimate
	if err := json.Unmarshal([]byte(body[start:end+1]), &est); err != nil {
		return failed
	}

	est.Items = lo.Filter(est.Items, func(item models.FoodItem, _ int) bool {
		return strings.TrimSpace(item.Name) != ""
	})
	if len(est.Items) == 0 && est.TotalCalories <= 0 {
		return failed
	}
	if est.TotalCalories <= 0 {
		est.TotalCalories = lo.SumBy(est.Items, func(item models.FoodItem) int { return item.Calories })
	}

	switch models.Confidence(strings.ToLower(string(est.Confidence))) {
	case models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow:
		est.Confidence = models.Confidence(strings.ToLower(string(est.Confidence)))
	default:
		est.Confidence = models.ConfidenceMedium
	}

	est.Success = true
	est.RawResponse = raw
	return &est
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
