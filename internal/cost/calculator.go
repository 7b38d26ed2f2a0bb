package cost

import (
	"maps"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/batchquery/internal/model"
)

// ModelRate holds per-model token pricing (USD per 1000 tokens).
type ModelRate struct {
	Prompt     float64 `yaml:"prompt" mapstructure:"prompt"`
	Completion float64 `yaml:"completion" mapstructure:"completion"`
}

// Rates maps canonical model names to their pricing.
type Rates map[string]ModelRate

// DefaultRates returns the built-in price table.
func DefaultRates() Rates {
	return Rates{
		"gpt-4-0125-preview":        {Prompt: 0.01, Completion: 0.03},
		"gpt-4-1106-preview":        {Prompt: 0.01, Completion: 0.03},
		"gpt-4-1106-vision-preview": {Prompt: 0.01, Completion: 0.03},
		"gpt-4-0613":                {Prompt: 0.03, Completion: 0.06},
		"gpt-4-32k-0613":            {Prompt: 0.06, Completion: 0.12},
		"gpt-3.5-turbo-1106":        {Prompt: 0.001, Completion: 0.002},
		"gpt-3.5-turbo-instruct":    {Prompt: 0.0015, Completion: 0.0020},
	}
}

// LoadRates reads a YAML price file and merges it over DefaultRates.
// An empty path returns the defaults.
//
//	pricing:
//	  gpt-4-0613: {prompt: 0.03, completion: 0.06}
func LoadRates(path string) (Rates, error) {
	rates := DefaultRates()
	if path == "" {
		return rates, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "cost: read pricing %s", path)
	}

	var wrapper struct {
		Pricing Rates `yaml:"pricing"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "cost: parse pricing")
	}
	for name, rate := range wrapper.Pricing {
		if rate.Prompt < 0 || rate.Completion < 0 {
			return nil, eris.Errorf("cost: negative price for %s", name)
		}
	}
	maps.Copy(rates, wrapper.Pricing)
	return rates, nil
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// PriceFor returns the pricing of model after alias resolution. ok is false
// for models missing from the table.
func (c *Calculator) PriceFor(name string) (ModelRate, bool) {
	canonical, _ := ResolveAlias(name)
	rate, ok := c.rates[canonical]
	return rate, ok
}

// Cost returns the estimated USD cost of usage on model. ok is false when the
// model is unpriced, in which case no estimate exists.
func (c *Calculator) Cost(name string, usage model.Usage) (float64, bool) {
	rate, ok := c.PriceFor(name)
	if !ok {
		return 0, false
	}
	return (float64(usage.PromptTokens)*rate.Prompt + float64(usage.CompletionTokens)*rate.Completion) / 1000, true
}
