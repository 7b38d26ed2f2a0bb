package main

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/batchquery/internal/checkpoint"
	"github.com/sells-group/batchquery/internal/cost"
	"github.com/sells-group/batchquery/internal/ledger"
	"github.com/sells-group/batchquery/internal/tokens"
	"github.com/sells-group/batchquery/pkg/openai"
)

// newChatClient builds the remote client for a flavor. Tests replace it.
var newChatClient = func(flavor cost.Flavor) (openai.Client, error) {
	switch flavor {
	case cost.FlavorAzure:
		return openai.NewAzureClient(openai.AzureConfig{
			APIKey:     cfg.Azure.APIKey,
			Endpoint:   cfg.Azure.Endpoint,
			APIVersion: cfg.Azure.APIVersion,
		})
	default:
		return openai.NewLocalClient(openai.LocalConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
		})
	}
}

// newEncoder loads the estimation tokenizer. Tests replace it.
var newEncoder = func() (tokens.Encoder, error) {
	return tokens.NewBPE(tokens.EstimationModel)
}

// initLedger opens the configured run ledger. The sqlite file defaults to
// runs.db inside outputDir.
func initLedger(ctx context.Context, outputDir string) (ledger.Store, error) {
	lc := ledger.Config{
		Driver:   cfg.Ledger.Driver,
		Path:     cfg.Ledger.Path,
		DSN:      cfg.Ledger.DSN,
		MaxConns: cfg.Ledger.MaxConns,
		MinConns: cfg.Ledger.MinConns,
	}
	if lc.Path == "" {
		if outputDir == "" {
			outputDir = "."
		}
		lc.Path = filepath.Join(outputDir, "runs.db")
	}
	st, err := ledger.Open(ctx, lc)
	if err != nil {
		return nil, eris.Wrap(err, "init ledger")
	}
	return st, nil
}

// initPricer returns a cost calculator for the local flavor and nil for
// flavors that report no prices.
func initPricer(flavor cost.Flavor) (*cost.Calculator, error) {
	if flavor != cost.FlavorLocal {
		return nil, nil
	}
	rates, err := cost.LoadRates(cfg.Pricing.File)
	if err != nil {
		return nil, eris.Wrap(err, "init pricing")
	}
	return cost.NewCalculator(rates), nil
}

// validateModels checks every model a run would call against the flavor.
func validateModels(store *checkpoint.Store, flavor cost.Flavor, runModel string) error {
	names := []string{runModel}
	for _, src := range store.Sources() {
		for _, req := range src.Requests {
			if req.Name != "" && !slices.Contains(names, req.Name) {
				names = append(names, req.Name)
			}
		}
	}
	for _, name := range names {
		if err := cost.ValidateModel(flavor, name); err != nil {
			return err
		}
		if canonical, aliased := cost.ResolveAlias(name); aliased {
			zap.L().Debug("model alias", zap.String("model", name), zap.String("priced_as", canonical))
		}
	}
	return nil
}
