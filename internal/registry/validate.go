package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/resflow/toolplane/internal/domain"
)

var errPrinter = message.NewPrinter(language.English)

// compileSchema compiles a JSON-schema document declared as a Go map.
// Round-tripping through the jsonschema decoder keeps numbers in the form
// the validator expects.
func compileSchema(url string, doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// ValidateInput checks a payload against the tool's input schema and
// returns an ARGS_VALIDATION_ERROR enumerating every violation. Tools
// without an input schema accept any payload.
func (r *Registry) ValidateInput(name string, payload map[string]any) error {
	t, err := r.Lookup(name)
	if err != nil {
		return err
	}
	if t.inputSchema == nil {
		return nil
	}

	violations := validate(t.inputSchema, payload)
	if len(violations) == 0 {
		return nil
	}
	return domain.E(domain.CodeArgsValidation, "payload for %s failed validation", name).
		WithDetails(map[string]any{"violations": violations}).
		WithHelp("fix the listed fields and resubmit with the same requestId")
}

// ValidateOutput checks a tool result against the declared output schema.
// Violations are returned as warnings and never block the response.
func (r *Registry) ValidateOutput(name string, result any) []string {
	t, ok := r.tools[name]
	if !ok || t.outputSchema == nil {
		return nil
	}
	return validate(t.outputSchema, result)
}

// validate runs the schema over a value after normalizing it through JSON,
// and flattens the error tree into one message per offending location.
func validate(sch *jsonschema.Schema, value any) []string {
	raw, err := json.Marshal(value)
	if err != nil {
		return []string{fmt.Sprintf("value is not JSON-serializable: %v", err)}
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return []string{fmt.Sprintf("value is not valid JSON: %v", err)}
	}

	err = sch.Validate(parsed)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return flatten(ve)
	}
	return []string{err.Error()}
}

// flatten walks the validation error tree and reports each leaf cause as
// "<instance path>: <message>".
func flatten(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(errPrinter))}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
