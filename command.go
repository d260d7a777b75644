package seestar

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Command declares one control-channel method: its wire name, its
// parameters, and the JSON Schema its response must satisfy. Declaring
// commands this way means Client.SendCommand can validate a response
// before handing it to the caller, without any reflection over the
// caller's own result type.
type Command interface {
	Method() string
	Params() any

	// ResponseSchema returns a JSON Schema document (as a string) the
	// response's result must satisfy, or "" to skip validation.
	ResponseSchema() string
}

// RawCommand is the simplest Command: a method name and params with no
// response validation. Most one-off calls use this instead of declaring a
// dedicated type.
type RawCommand struct {
	MethodName string
	ParamsData any
}

func (c RawCommand) Method() string         { return c.MethodName }
func (c RawCommand) Params() any            { return c.ParamsData }
func (c RawCommand) ResponseSchema() string { return "" }

var (
	schemaCacheMu sync.Mutex
	schemaCache   = map[string]*gojsonschema.Schema{}
)

func compileSchema(schemaDoc string) (*gojsonschema.Schema, error) {
	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()

	if s, ok := schemaCache[schemaDoc]; ok {
		return s, nil
	}
	loader := gojsonschema.NewStringLoader(schemaDoc)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, err
	}
	schemaCache[schemaDoc] = schema
	return schema, nil
}

func validateAgainstSchema(schemaDoc string, result json.RawMessage) error {
	if schemaDoc == "" {
		return nil
	}
	schema, err := compileSchema(schemaDoc)
	if err != nil {
		return &ProtocolError{Message: "invalid response schema", Cause: err}
	}
	doc := gojsonschema.NewBytesLoader(result)
	out, err := schema.Validate(doc)
	if err != nil {
		return &ProtocolError{Message: "schema validation error", Cause: err}
	}
	if !out.Valid() {
		msg := "response failed schema validation:"
		for _, e := range out.Errors() {
			msg += fmt.Sprintf(" %s: %s;", e.Field(), e.Description())
		}
		return &ProtocolError{Message: msg}
	}
	return nil
}
