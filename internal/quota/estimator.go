package quota

import (
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// Estimator estimates token counts for prompt text so callers can run a
// quota pre-check before invoking a tool. Uses the cl100k_base encoding;
// falls back to a bytes/4 heuristic when the codec cannot be loaded.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator creates a token estimator.
func NewEstimator() *Estimator {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("Tokenizer unavailable, falling back to heuristic estimates")
		return &Estimator{}
	}
	return &Estimator{codec: codec}
}

// EstimateTokens returns the estimated token count for the given text.
func (e *Estimator) EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	if e.codec == nil {
		return int64(len(text)+3) / 4
	}
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return int64(len(text)+3) / 4
	}
	return int64(len(ids))
}
