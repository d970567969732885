package claude

import (
	"strings"

	"github.com/Davincible/chatgate/internal/provider"
)

// Settings exposes the user-configured model mappings. Categories are
// "opus", "sonnet", "haiku", and "default"; a mapping value is either
// "provider/model" or a bare model id. "auto" (or empty) means no mapping.
type Settings interface {
	ModelMapping(category string) string
}

// Target is the outcome of model remapping.
type Target struct {
	Provider string // explicit provider name, may be empty
	Model    string // model id, or "auto" for sequence-based selection
}

// RemapModel translates the inbound model field into a provider/model
// target:
//
//   - a literal "provider/model" form is split into both parts,
//   - a recognized category substring consults the configured mapping,
//   - otherwise the registry's model→provider inference applies,
//   - failing all that, the model is left for sequence/account fallback.
func RemapModel(model string, settings Settings, registry *provider.Registry) Target {
	if idx := strings.Index(model, "/"); idx > 0 {
		return Target{Provider: model[:idx], Model: model[idx+1:]}
	}

	if category := modelCategory(model); category != "" {
		if mapped := settings.ModelMapping(category); mapped != "" && mapped != "auto" {
			if idx := strings.Index(mapped, "/"); idx > 0 {
				return Target{Provider: mapped[:idx], Model: mapped[idx+1:]}
			}

			return Target{Model: mapped}
		}

		// Mapped to "auto" or unmapped category: sequence-based selection.
		return Target{Model: "auto"}
	}

	if model == "" || model == "auto" {
		return Target{Model: "auto"}
	}

	if p, ok := registry.ResolveByModel(model); ok {
		return Target{Provider: p.Name(), Model: model}
	}

	// Unknown model id: the account resolver's fallback decides the
	// provider; the adapter's default model fills in.
	return Target{Model: model}
}

func modelCategory(model string) string {
	lower := strings.ToLower(model)

	switch {
	case strings.Contains(lower, "opus"):
		return "opus"
	case strings.Contains(lower, "sonnet"):
		return "sonnet"
	case strings.Contains(lower, "haiku"):
		return "haiku"
	case strings.HasPrefix(lower, "claude-2"), strings.HasPrefix(lower, "claude-3"):
		return "default"
	}

	return ""
}
