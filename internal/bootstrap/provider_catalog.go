package bootstrap

import (
	"os"

	"manga-studio/internal/domain"
)

// narrationProviderCatalog lists the multimodal backends the narration
// pipeline can call. The backends themselves are external collaborators;
// this catalog only reports which are configured so the UI can gate
// provider selection.
var narrationProviderCatalog = []domain.NarrationProviderOption{
	{
		ID:          "gemini",
		Name:        "Google Gemini",
		EnvKey:      "GEMINI_API_KEY",
		Description: "Multimodal narration via the Gemini API.",
	},
	{
		ID:          "openai",
		Name:        "OpenAI GPT-4o",
		EnvKey:      "OPENAI_API_KEY",
		Description: "Multimodal narration via the OpenAI API.",
	},
	{
		ID:          "claude",
		Name:        "Anthropic Claude",
		EnvKey:      "ANTHROPIC_API_KEY",
		Description: "Multimodal narration via the Anthropic API.",
	},
}

// NarrationProviders returns the catalog with per-provider configured flags.
func NarrationProviders() []domain.NarrationProviderOption {
	return narrationProvidersWithEnv(os.LookupEnv)
}

// narrationProvidersWithEnv resolves configured flags via an injectable
// environment lookup.
func narrationProvidersWithEnv(lookup func(string) (string, bool)) []domain.NarrationProviderOption {
	providers := make([]domain.NarrationProviderOption, len(narrationProviderCatalog))
	for i, provider := range narrationProviderCatalog {
		value, ok := lookup(provider.EnvKey)
		provider.Configured = ok && value != ""
		providers[i] = provider
	}
	return providers
}
