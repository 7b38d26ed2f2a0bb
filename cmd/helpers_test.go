package main

import (
	"encoding/json"

	"github.com/sells-group/batchquery/internal/batch"
)

func jsonUnmarshal(line string, v any) error {
	return json.Unmarshal([]byte(line), v)
}

func batchSummary(canceled, circuitOpen bool) batch.Summary {
	return batch.Summary{Canceled: canceled, CircuitOpen: circuitOpen}
}
