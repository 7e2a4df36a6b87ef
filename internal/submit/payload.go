package submit

import (
	"fmt"

	"palette/internal/catalog"
)

// Payload is the provider input for one model family. The set of
// implementations is closed; adding a model family means adding a case to
// BuildPayload.
type Payload interface {
	family() catalog.Family
}

type NanoBananaInput struct {
	Prompt       string   `json:"prompt"`
	ImageInput   []string `json:"image_input,omitempty"`
	AspectRatio  string   `json:"aspect_ratio,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
}

type Gen4Input struct {
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	ReferenceTags   []string `json:"reference_tags,omitempty"`
	Resolution      string   `json:"resolution,omitempty"`
	AspectRatio     string   `json:"aspect_ratio,omitempty"`
	Seed            *int     `json:"seed,omitempty"`
}

type QwenInput struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	OutputFormat   string `json:"output_format,omitempty"`
	Seed           *int   `json:"seed,omitempty"`
}

type SeedanceInput struct {
	Prompt          string   `json:"prompt"`
	Image           string   `json:"image,omitempty"`
	LastFrameImage  string   `json:"last_frame_image,omitempty"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	Resolution      string   `json:"resolution,omitempty"`
	AspectRatio     string   `json:"aspect_ratio,omitempty"`
	Duration        int      `json:"duration,omitempty"`
	CameraFixed     bool     `json:"camera_fixed,omitempty"`
	Seed            *int     `json:"seed,omitempty"`
}

func (NanoBananaInput) family() catalog.Family { return catalog.FamilyNanoBanana }
func (Gen4Input) family() catalog.Family       { return catalog.FamilyGen4 }
func (QwenInput) family() catalog.Family       { return catalog.FamilyQwen }
func (SeedanceInput) family() catalog.Family   { return catalog.FamilySeedance }

// BuildPayload maps a validated request onto the model's provider input.
func BuildPayload(m catalog.Model, req Request) (Payload, error) {
	switch m.Family {
	case catalog.FamilyNanoBanana:
		return NanoBananaInput{
			Prompt:       req.Prompt,
			ImageInput:   req.ReferenceImages,
			AspectRatio:  req.AspectRatio,
			OutputFormat: req.OutputFormat,
		}, nil
	case catalog.FamilyGen4:
		return Gen4Input{
			Prompt:          req.Prompt,
			ReferenceImages: req.ReferenceImages,
			ReferenceTags:   req.ReferenceTags,
			Resolution:      req.Resolution,
			AspectRatio:     req.AspectRatio,
			Seed:            req.Seed,
		}, nil
	case catalog.FamilyQwen:
		return QwenInput{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			AspectRatio:    req.AspectRatio,
			OutputFormat:   req.OutputFormat,
			Seed:           req.Seed,
		}, nil
	case catalog.FamilySeedance:
		return SeedanceInput{
			Prompt:          req.Prompt,
			Image:           req.Image,
			LastFrameImage:  req.LastFrameImage,
			ReferenceImages: req.ReferenceImages,
			Resolution:      req.Resolution,
			AspectRatio:     req.AspectRatio,
			Duration:        req.Duration,
			CameraFixed:     req.CameraFixed,
			Seed:            req.Seed,
		}, nil
	default:
		return nil, fmt.Errorf("submit: no payload mapping for model family %q", m.Family)
	}
}
