package tokens

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rotisserie/eris"
)

// EstimationModel is the model whose BPE encoding approximates every
// supported chat model.
const EstimationModel = "gpt-4"

// BPE adapts a tiktoken encoding to Encoder.
type BPE struct {
	tk *tiktoken.Tiktoken
}

// NewBPE loads the encoding used by modelName. The BPE ranks are fetched on
// first use and cached under TIKTOKEN_CACHE_DIR.
func NewBPE(modelName string) (*BPE, error) {
	tk, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		return nil, eris.Wrapf(err, "tokens: load encoding for %s", modelName)
	}
	return &BPE{tk: tk}, nil
}

// Encode implements Encoder.
func (b *BPE) Encode(text string) []int {
	return b.tk.Encode(text, nil, nil)
}
