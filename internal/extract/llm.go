package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/quill/internal/providers"
	"github.com/jackzampolin/quill/internal/types"
)

// extractionSchemaName identifies the response schema for logging.
const extractionSchemaName = "entity_extraction"

// extractionSchema constrains the LLM response. Entity refs in claims and
// merges may be temp ids minted in this response or existing entity ids.
const extractionSchema = `{
	"type": "object",
	"required": ["entities", "claims", "merges"],
	"additionalProperties": false,
	"properties": {
		"entities": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["temp_id", "name", "type"],
				"additionalProperties": false,
				"properties": {
					"temp_id": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1},
					"type": {"type": "string", "enum": ["character", "location", "object", "other"]},
					"aliases": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"claims": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["entity_ref", "field", "value", "confidence", "evidence"],
				"additionalProperties": false,
				"properties": {
					"entity_ref": {"type": "string", "minLength": 1},
					"field": {"type": "string", "minLength": 1},
					"value": {"type": "string"},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"evidence": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["quote"],
							"additionalProperties": false,
							"properties": {"quote": {"type": "string", "minLength": 1}}
						}
					}
				}
			}
		},
		"merges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["a", "b", "confidence"],
				"additionalProperties": false,
				"properties": {
					"a": {"type": "string", "minLength": 1},
					"b": {"type": "string", "minLength": 1},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				}
			}
		}
	}
}`

type llmEntity struct {
	TempID  string   `json:"temp_id"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Aliases []string `json:"aliases"`
}

type llmEvidence struct {
	Quote string `json:"quote"`
}

type llmClaim struct {
	EntityRef  string        `json:"entity_ref"`
	Field      string        `json:"field"`
	Value      string        `json:"value"`
	Confidence float64       `json:"confidence"`
	Evidence   []llmEvidence `json:"evidence"`
}

type llmMerge struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	Confidence float64 `json:"confidence"`
}

type llmResponse struct {
	Entities []llmEntity `json:"entities"`
	Claims   []llmClaim  `json:"claims"`
	Merges   []llmMerge  `json:"merges"`
}

const extractionSystemPrompt = `You extract story facts from manuscript excerpts.
Identify entities (characters, locations, objects) and factual claims about them.
Every claim MUST include at least one verbatim quote from the excerpt as evidence.
Use existing entity ids when an entity is already known; otherwise mint a temp id
like "t1". Suggest merges when two references clearly denote the same entity.
Respond with JSON only, matching the documented schema.`

// KnownEntity is the context handed to the LLM about an existing entity.
type KnownEntity struct {
	ID      string
	Name    string
	Type    types.EntityType
	Aliases []string
}

// buildExtractionRequest assembles the schema-constrained request for a
// set of in-scope chunks.
func buildExtractionRequest(known []KnownEntity, chunks []types.Chunk, temperature float64, maxTokens int, timeout time.Duration) *providers.JSONRequest {
	var b strings.Builder

	b.WriteString("Known entities:\n")
	if len(known) == 0 {
		b.WriteString("(none)\n")
	}
	for _, e := range known {
		fmt.Fprintf(&b, "- id=%s name=%q type=%s", e.ID, e.Name, e.Type)
		if len(e.Aliases) > 0 {
			fmt.Fprintf(&b, " aliases=%s", strings.Join(e.Aliases, ", "))
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nResponse JSON schema:\n")
	b.WriteString(extractionSchema)

	b.WriteString("\n\nExcerpts:\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "--- chunk %d ---\n%s\n", c.Ordinal, c.Text)
	}

	return &providers.JSONRequest{
		SchemaName:   extractionSchemaName,
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   b.String(),
		JSONSchema:   json.RawMessage(extractionSchema),
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		Timeout:      timeout,
	}
}

func parseExtractionResponse(raw json.RawMessage) (*llmResponse, error) {
	var resp llmResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding extraction response: %w", err)
	}
	return &resp, nil
}

func parseEntityType(s string) types.EntityType {
	switch s {
	case "character":
		return types.EntityCharacter
	case "location":
		return types.EntityLocation
	case "object":
		return types.EntityObject
	default:
		return types.EntityOther
	}
}
