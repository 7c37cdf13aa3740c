package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const rootField = "(root)"

const envelopeProperties = `
	"contractVersion": {"type": "string"},
	"runId": {"type": "string"},
	"threadId": {"type": "string"}`

var rawSchemas = map[Kind]string{
	KindScheduler: `{
		"type": "object",
		"properties": {` + envelopeProperties + `,
			"triggerAt": {"type": "string"},
			"dryRun": {"type": "boolean"}
		}
	}`,
	KindDispatch: `{
		"type": "object",
		"properties": {` + envelopeProperties + `,
			"nowIso": {"type": "string"},
			"batchSize": {"type": "integer", "minimum": 1, "maximum": 200},
			"dryRun": {"type": "boolean"}
		}
	}`,
	KindFunnel: `{
		"type": "object",
		"required": ["chatId", "phone", "title", "steps"],
		"properties": {` + envelopeProperties + `,
			"chatId": {"type": "integer", "minimum": 1},
			"phone": {"type": "string"},
			"title": {"type": "string"},
			"initiatedBy": {"type": "string"},
			"steps": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["type"],
					"properties": {
						"type": {"type": "string"},
						"content": {"type": "string"},
						"delay": {"type": "integer", "minimum": 0}
					}
				}
			}
		}
	}`,
}

var (
	schemasOnce sync.Once
	schemas     map[Kind]*gojsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[Kind]*gojsonschema.Schema, error) {
	schemasOnce.Do(func() {
		schemas = make(map[Kind]*gojsonschema.Schema, len(rawSchemas))

		for kind, raw := range rawSchemas {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
			if err != nil {
				schemasErr = fmt.Errorf("failed to compile %s schema: %w", kind, err)

				return
			}

			schemas[kind] = schema
		}
	})

	return schemas, schemasErr
}

// Decode turns an untrusted JSON payload into a validated command of the given kind.
func Decode(kind Kind, data []byte) (Command, error) {
	cmd, err := NewCommand(kind)
	if err != nil {
		return nil, err
	}

	compiled, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	result, err := compiled[kind].Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &SchemaError{Reason: "malformed", Message: "payload is not valid JSON: " + err.Error()}
	}

	if !result.Valid() {
		first := result.Errors()[0]

		field := first.Field()
		if field == rootField {
			field = requiredProperty(first)
		}

		return nil, &SchemaError{
			Field:   field,
			Reason:  first.Type(),
			Message: first.Description(),
		}
	}

	err = json.Unmarshal(data, cmd)
	if err != nil {
		return nil, &SchemaError{Reason: "malformed", Message: err.Error()}
	}

	err = Validate(cmd)
	if err != nil {
		return nil, err
	}

	return cmd, nil
}

// DecodeSend turns an untrusted JSON payload into a validated SendCommand.
func DecodeSend(data []byte) (*SendCommand, error) {
	cmd := &SendCommand{}

	err := json.Unmarshal(data, cmd)
	if err != nil {
		return nil, &SchemaError{Reason: "malformed", Message: err.Error()}
	}

	err = ValidateSend(cmd)
	if err != nil {
		return nil, err
	}

	return cmd, nil
}

func requiredProperty(re gojsonschema.ResultError) string {
	if property, ok := re.Details()["property"].(string); ok {
		return property
	}

	return strings.TrimPrefix(re.Field(), rootField)
}
