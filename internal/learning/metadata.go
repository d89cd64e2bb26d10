package learning

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const responsesSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["question_id", "selected_answer"],
		"properties": {
			"question_id": {"type": "string", "minLength": 1},
			"selected_answer": {"type": "integer", "minimum": 0},
			"is_correct": {"type": "boolean"},
			"time_taken": {"type": "integer", "minimum": 0}
		}
	}
}`

const gameSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"level": {"type": "integer", "minimum": 0},
		"streak": {"type": "integer", "minimum": 0},
		"lives": {"type": "integer", "minimum": 0},
		"best_combo": {"type": "integer", "minimum": 0}
	}
}`

const chapterFields = `
		"chapter_id": {"type": "string", "maxLength": 128},
		"chapter_name": {"type": "string", "maxLength": 256},`

// metadataSchemas holds one JSON Schema per module type. Only games carry
// game details; every type may embed responses and free-form extras.
var metadataSchemas = map[ModuleType]string{
	ModuleAssessment: metadataSchema(chapterFields, ""),
	ModuleChapter:    metadataSchema(chapterFields, ""),
	ModuleChallenge:  metadataSchema("", ""),
	ModuleGame:       metadataSchema("", `"game": `+gameSchema+`,`),
}

func metadataSchema(chapter, game string) string {
	return `{
	"type": "object",
	"additionalProperties": false,
	"properties": {` + chapter + game + `
		"responses": ` + responsesSchema + `,
		"extra": {"type": "object"}
	}
}`
}

var (
	compileOnce sync.Once
	compiled    map[ModuleType]*gojsonschema.Schema
	compileErr  error
)

func schemas() (map[ModuleType]*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[ModuleType]*gojsonschema.Schema, len(metadataSchemas))
		for m, src := range metadataSchemas {
			s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
			if err != nil {
				compileErr = fmt.Errorf("compile %s metadata schema: %w", m, err)
				return
			}
			compiled[m] = s
		}
	})
	return compiled, compileErr
}

// ValidateMetadata checks a raw JSON metadata document against the schema
// for the module type. Empty and null documents are accepted.
func ValidateMetadata(m ModuleType, raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	all, err := schemas()
	if err != nil {
		return err
	}
	schema, ok := all[m]
	if !ok {
		return invalid("module_type", fmt.Sprintf("unknown module type %q", m))
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return invalid("metadata", "is not valid JSON")
	}
	if result.Valid() {
		return nil
	}

	reasons := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		reasons = append(reasons, e.String())
	}
	return invalid("metadata", strings.Join(reasons, "; "))
}
