// Package tokens approximates prompt token counts without calling the API.
package tokens

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/batchquery/internal/model"
)

// ErrUnknownRole is returned for messages whose role has no overhead entry.
var ErrUnknownRole = eris.New("unknown message role")

// Encoder turns text into model tokens.
type Encoder interface {
	Encode(text string) []int
}

// roleOverhead is the fixed per-message token cost added on top of the
// encoded content.
var roleOverhead = map[string]int{
	model.RoleSystem:    4,
	model.RoleUser:      7,
	model.RoleAssistant: 1,
}

// Estimate sums encoded content length plus role overhead over messages.
func Estimate(messages []model.Message, enc Encoder) (int, error) {
	if enc == nil {
		return 0, eris.New("tokens: nil encoder")
	}
	total := 0
	for i, m := range messages {
		overhead, ok := roleOverhead[m.Role]
		if !ok {
			return 0, eris.Wrapf(ErrUnknownRole, "tokens: message %d role %q", i, m.Role)
		}
		total += len(enc.Encode(m.Content)) + overhead
	}
	return total, nil
}
