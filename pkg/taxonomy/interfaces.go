package taxonomy

import "context"

// LLMClient sends a classification prompt and returns the model's raw reply.
// The reply is untrusted and validated by the Agent.
type LLMClient interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// Persistence loads seed topics and saves the final taxonomy
type Persistence interface {
	Load() ([]string, error)
	Save(topics []string) error
}
