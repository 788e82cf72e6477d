package llm

// ModelInfo describes one selectable provider model, served to the client
// UI as a static catalog.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	ContextLength int    `json:"context_length"`
	Free          bool   `json:"free"`
	Images        bool   `json:"images"`
}

// catalog is the fixed set of models exposed by the picker. Image-capable
// entries route through the image endpoint rather than chat completion.
var catalog = []ModelInfo{
	{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", Provider: "OpenAI", ContextLength: 128000, Free: true},
	{ID: "openai/gpt-4o", Name: "GPT-4o", Provider: "OpenAI", ContextLength: 128000},
	{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", Provider: "Anthropic", ContextLength: 200000},
	{ID: "meta-llama/llama-3.1-70b-instruct", Name: "Llama 3.1 70B", Provider: "Meta", ContextLength: 131072, Free: true},
	{ID: "mistralai/mistral-nemo", Name: "Mistral Nemo", Provider: "Mistral", ContextLength: 128000, Free: true},
	{ID: "google/gemini-flash-1.5", Name: "Gemini Flash 1.5", Provider: "Google", ContextLength: 1000000, Free: true},
	{ID: "dall-e-3", Name: "DALL-E 3", Provider: "OpenAI", Images: true},
}

// Catalog returns a copy of the model catalog so callers cannot mutate the
// shared slice.
func Catalog() []ModelInfo {
	out := make([]ModelInfo, len(catalog))
	copy(out, catalog)
	return out
}

// KnownModel reports whether id is in the catalog.
func KnownModel(id string) bool {
	for _, m := range catalog {
		if m.ID == id {
			return true
		}
	}
	return false
}

// DefaultModel returns the first free chat model, used when a request does
// not name one.
func DefaultModel() string {
	for _, m := range catalog {
		if m.Free && !m.Images {
			return m.ID
		}
	}
	return catalog[0].ID
}
