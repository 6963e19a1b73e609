package activities

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaGateSummary  = "schemas/gate_summary.json"
	schemaJudgeSummary = "schemas/judge_summary.json"
	schemaAgentCard    = "schemas/agent_card.json"
)

// ErrInvalidSummary is returned when an evaluator summary does not match its schema.
var ErrInvalidSummary = errors.New("invalid evaluator summary")

// validateDocument validates data against one of the embedded schemas.
func validateDocument(schemaName string, data map[string]any) error {
	schema, err := schemaFS.ReadFile(schemaName)
	if err != nil {
		return fmt.Errorf("load schema %s: %w", schemaName, err)
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidSummary, strings.Join(errs, "; "))
	}

	return nil
}
