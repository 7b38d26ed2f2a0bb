package tokens

import (
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/batchquery/internal/model"
)

// wordEncoder yields one token per whitespace-separated word.
type wordEncoder struct{}

func (wordEncoder) Encode(text string) []int {
	return make([]int, len(strings.Fields(text)))
}

func TestEstimate_SystemMessage(t *testing.T) {
	msgs := []model.Message{{Role: model.RoleSystem, Content: "X"}}

	n, err := Estimate(msgs, wordEncoder{})
	require.NoError(t, err)
	assert.Equal(t, len(wordEncoder{}.Encode("X"))+4, n)
}

func TestEstimate_SumsAllRoles(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleSystem, Content: "you are terse"},
		{Role: model.RoleUser, Content: "say hi"},
		{Role: model.RoleAssistant, Content: "hi"},
	}

	n, err := Estimate(msgs, wordEncoder{})
	require.NoError(t, err)
	assert.Equal(t, (3+4)+(2+7)+(1+1), n)
}

func TestEstimate_Empty(t *testing.T) {
	n, err := Estimate(nil, wordEncoder{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEstimate_UnknownRole(t *testing.T) {
	msgs := []model.Message{{Role: "function", Content: "x"}}

	_, err := Estimate(msgs, wordEncoder{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownRole))
}

func TestEstimate_NilEncoder(t *testing.T) {
	_, err := Estimate([]model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
	assert.Error(t, err)
}
