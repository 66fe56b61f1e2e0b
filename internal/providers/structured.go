package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// errSchemaViolation marks an attempt whose response parsed but failed
// schema validation, which is the only condition worth re-asking for.
var errSchemaViolation = errors.New("schema violation")

// CompleteJSONWithRetry calls the provider and validates the response
// against req.JSONSchema. Validation failures re-run the entire provider
// call (not just validation) up to maxRetries+1 total attempts; once
// exhausted, a single aggregated ValidationError lists the last failure
// set. Transport errors propagate immediately - the client already
// handles transport-level retries.
func CompleteJSONWithRetry(ctx context.Context, client LLMClient, req *JSONRequest, maxRetries int, logger *slog.Logger) (*JSONResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	schema, err := compileSchema(req.SchemaName, req.JSONSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", req.SchemaName, err)
	}

	var (
		result      *JSONResult
		lastFailSet []string
		attempts    int
	)

	retryErr := retry.Do(
		func() error {
			attempts++
			res, err := client.CompleteJSON(ctx, req)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if res.JSON == nil {
				lastFailSet = []string{"$: response is not valid JSON"}
				logger.Warn("llm response is not valid JSON",
					"schema", req.SchemaName, "attempt", attempts)
				return errSchemaViolation
			}
			if violations := validateAgainst(schema, res.JSON); len(violations) > 0 {
				lastFailSet = violations
				logger.Warn("llm response failed schema validation",
					"schema", req.SchemaName, "attempt", attempts, "violations", len(violations))
				return errSchemaViolation
			}
			result = res
			return nil
		},
		retry.Attempts(uint(maxRetries+1)),
		retry.Context(ctx),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if retryErr != nil {
		if errors.Is(retryErr, errSchemaViolation) {
			return nil, &ValidationError{Attempts: attempts, Errors: lastFailSet}
		}
		return nil, retryErr
	}
	return result, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if name == "" {
		name = "response"
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// validateAgainst returns human-readable "path message" pairs, sorted for
// stable error output.
func validateAgainst(schema *jsonschema.Schema, raw json.RawMessage) []string {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return []string{"$: " + err.Error()}
	}
	err := schema.Validate(value)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{"$: " + err.Error()}
	}

	seen := map[string]bool{}
	var out []string
	collectViolations(ve, seen, &out)
	sort.Strings(out)
	return out
}

// collectViolations flattens the validation error tree into leaf messages.
func collectViolations(ve *jsonschema.ValidationError, seen map[string]bool, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "$"
		}
		msg := loc + ": " + ve.Message
		if !seen[msg] {
			seen[msg] = true
			*out = append(*out, msg)
		}
		return
	}
	for _, cause := range ve.Causes {
		collectViolations(cause, seen, out)
	}
}
