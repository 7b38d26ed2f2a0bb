// Package cost holds the static model catalog of each client flavor and the
// token price table used to estimate the spend of a batch run.
package cost

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Flavor names the remote client a batch runs against.
type Flavor string

const (
	// FlavorLocal talks to an OpenAI-compatible endpoint directly.
	FlavorLocal Flavor = "local"
	// FlavorAzure talks to an Azure OpenAI deployment.
	FlavorAzure Flavor = "azure"
)

var (
	// ErrUnsupportedModel is returned when a model is not served by the
	// selected client flavor.
	ErrUnsupportedModel = eris.New("unsupported model")
	// ErrUnknownFlavor is returned for client names other than local/azure.
	ErrUnknownFlavor = eris.New("unknown client flavor")
)

var supportedModels = map[Flavor][]string{
	FlavorLocal: {
		"gpt-4-0125-preview",
		"gpt-4-turbo-preview",
		"gpt-4-1106-preview",
		"gpt-4-vision-preview",
		"gpt-4",
		"gpt-4-0314",
		"gpt-4-0613",
		"gpt-4-32k",
		"gpt-4-32k-0314",
		"gpt-4-32k-0613",
		"gpt-3.5-turbo",
		"gpt-3.5-turbo-16k",
		"gpt-3.5-turbo-0301",
		"gpt-3.5-turbo-0613",
		"gpt-3.5-turbo-1106",
		"gpt-3.5-turbo-0125",
		"gpt-3.5-turbo-16k-0613",
	},
	FlavorAzure: {
		"gpt-4",
		"gpt-4-32k",
		"gpt-4-vision",
		"gpt-35-turbo",
		"gpt-35-turbo-16k",
		"gpt-35-turbo-instruct",
	},
}

// modelAliases maps floating model names to the dated snapshot they price as.
var modelAliases = map[string]string{
	"gpt-4-turbo-preview":  "gpt-4-0125-preview",
	"gpt-4-vision-preview": "gpt-4-1106-vision-preview",
	"gpt-4":                "gpt-4-0613",
	"gpt-4-32k":            "gpt-4-32k-0613",
	"gpt-3.5-turbo":        "gpt-3.5-turbo-1106",
}

// ParseFlavor converts a CLI/config value into a Flavor.
func ParseFlavor(s string) (Flavor, error) {
	switch f := Flavor(strings.ToLower(strings.TrimSpace(s))); f {
	case FlavorLocal, FlavorAzure:
		return f, nil
	default:
		return "", eris.Wrapf(ErrUnknownFlavor, "cost: parse flavor %q", s)
	}
}

// Flavors returns every known flavor in display order.
func Flavors() []Flavor {
	return []Flavor{FlavorLocal, FlavorAzure}
}

// SupportedModels returns the models served by flavor f.
func SupportedModels(f Flavor) []string {
	return slices.Clone(supportedModels[f])
}

// ValidateModel fails with ErrUnsupportedModel unless model is served by f.
func ValidateModel(f Flavor, model string) error {
	models, ok := supportedModels[f]
	if !ok {
		return eris.Wrapf(ErrUnknownFlavor, "cost: validate model for %q", f)
	}
	if !slices.Contains(models, model) {
		return eris.Wrapf(ErrUnsupportedModel, "cost: model %q is not supported by the %s client", model, f)
	}
	return nil
}

// ResolveAlias returns the canonical name of model and whether an alias was
// applied. Names without an alias are returned unchanged.
func ResolveAlias(model string) (string, bool) {
	if canonical, ok := modelAliases[model]; ok {
		return canonical, true
	}
	return model, false
}
