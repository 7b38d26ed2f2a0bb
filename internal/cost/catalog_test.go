package cost

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlavor(t *testing.T) {
	t.Parallel()

	f, err := ParseFlavor("Azure")
	require.NoError(t, err)
	assert.Equal(t, FlavorAzure, f)

	_, err = ParseFlavor("bedrock")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownFlavor))
}

func TestValidateModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		flavor  Flavor
		model   string
		wantErr bool
	}{
		{FlavorLocal, "gpt-3.5-turbo-1106", false},
		{FlavorLocal, "gpt-4", false},
		{FlavorLocal, "gpt-35-turbo", true},
		{FlavorAzure, "gpt-35-turbo", false},
		{FlavorAzure, "gpt-3.5-turbo-1106", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.flavor)+"/"+tt.model, func(t *testing.T) {
			err := ValidateModel(tt.flavor, tt.model)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrUnsupportedModel))
			assert.Contains(t, err.Error(), tt.model)
		})
	}
}

func TestValidateModel_UnknownFlavor(t *testing.T) {
	t.Parallel()
	err := ValidateModel(Flavor("other"), "gpt-4")
	assert.True(t, eris.Is(err, ErrUnknownFlavor))
}

func TestResolveAlias(t *testing.T) {
	t.Parallel()

	canonical, aliased := ResolveAlias("gpt-4")
	assert.Equal(t, "gpt-4-0613", canonical)
	assert.True(t, aliased)

	canonical, aliased = ResolveAlias("gpt-4-1106-preview")
	assert.Equal(t, "gpt-4-1106-preview", canonical)
	assert.False(t, aliased)
}

func TestSupportedModels_ReturnsCopy(t *testing.T) {
	t.Parallel()

	models := SupportedModels(FlavorAzure)
	require.NotEmpty(t, models)
	models[0] = "mutated"
	assert.NotEqual(t, "mutated", SupportedModels(FlavorAzure)[0])
}
