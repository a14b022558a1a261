package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenEstimator counts tokens with a real BPE encoding. It falls
// back to the character heuristic when the encoding cannot be loaded,
// so construction never fails at call sites.
type TiktokenEstimator struct {
	mu       sync.RWMutex
	encoding *tiktoken.Tiktoken
	fallback HeuristicEstimator
}

// NewTiktokenEstimator resolves an encoding for model, falling back to
// cl100k_base for models tiktoken does not know.
func NewTiktokenEstimator(model string) *TiktokenEstimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	}
	return &TiktokenEstimator{encoding: enc}
}

func (t *TiktokenEstimator) Estimate(text string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.encoding == nil {
		return t.fallback.Estimate(text)
	}
	return len(t.encoding.Encode(text, nil, nil))
}
