package catalog

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"palette/internal/domain"
)

// Request is the model-independent view of a submission that rules are
// checked against.
type Request struct {
	Kind            domain.GenerationKind
	Prompt          string
	ReferenceImages []string
	Image           string
	LastFrameImage  string
	Resolution      string
	AspectRatio     string
	OutputFormat    string
	Duration        int
}

// Validate returns every rule the request breaks, in a stable order. An
// empty result means the request may be submitted.
func (m Model) Validate(req Request) []string {
	var violations []string
	name := m.DisplayName()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		violations = append(violations, "prompt is required")
	} else if m.MaxPromptLength > 0 && utf8.RuneCountInString(prompt) > m.MaxPromptLength {
		violations = append(violations, fmt.Sprintf("prompt exceeds %d characters for %s", m.MaxPromptLength, name))
	}

	if req.Kind != "" && req.Kind != m.Kind {
		violations = append(violations, fmt.Sprintf("%s generates %s, not %s", name, m.Kind, req.Kind))
	}

	refs := len(req.ReferenceImages)
	switch {
	case refs > 0 && m.MaxReferenceImages == 0:
		violations = append(violations, fmt.Sprintf("%s does not support reference images", name))
	case refs > m.MaxReferenceImages:
		violations = append(violations, fmt.Sprintf("%s accepts at most %d reference images", name, m.MaxReferenceImages))
	}
	if refs > 0 && req.Resolution != "" && containsFold(m.ReferenceBlockedResolutions, req.Resolution) {
		violations = append(violations, fmt.Sprintf("%s does not support reference images at %s", name, req.Resolution))
	}

	if m.RequiresImageForLastFrame && strings.TrimSpace(req.LastFrameImage) != "" && strings.TrimSpace(req.Image) == "" {
		violations = append(violations, "last frame image requires a first frame image")
	}
	if m.Kind == domain.KindImage && strings.TrimSpace(req.LastFrameImage) != "" {
		violations = append(violations, fmt.Sprintf("%s does not accept a last frame image", name))
	}

	if req.Resolution != "" && !containsFold(m.Resolutions, req.Resolution) {
		violations = append(violations, unsupported(name, "resolution", req.Resolution, m.Resolutions))
	}
	if req.AspectRatio != "" && !containsFold(m.AspectRatios, req.AspectRatio) {
		violations = append(violations, unsupported(name, "aspect ratio", req.AspectRatio, m.AspectRatios))
	}
	if req.OutputFormat != "" && !containsFold(m.OutputFormats, req.OutputFormat) {
		violations = append(violations, unsupported(name, "output format", req.OutputFormat, m.OutputFormats))
	}
	if req.Duration != 0 && !slices.Contains(m.Durations, req.Duration) {
		violations = append(violations, fmt.Sprintf("%s does not support a %ds duration", name, req.Duration))
	}
	return violations
}

func unsupported(model, field, value string, allowed []string) string {
	if len(allowed) == 0 {
		return fmt.Sprintf("%s does not accept a %s", model, field)
	}
	return fmt.Sprintf("%s does not support %s %q (allowed: %s)", model, field, value, strings.Join(allowed, ", "))
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}
