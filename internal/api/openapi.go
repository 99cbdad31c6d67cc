package api

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/reviewchain/internal/chain"
)

//go:embed openapi.yaml
var openAPIDocument []byte

// LoadOpenAPI parses and validates the embedded API document.
func LoadOpenAPI() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to parse openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return doc, nil
}

// schemaValidator checks decoded JSON bodies against component schemas.
type schemaValidator struct {
	doc *openapi3.T
}

// validate returns nil when value satisfies the named schema. value must be
// the generic decoding of the body (maps, slices, float64).
func (v *schemaValidator) validate(schemaName string, value any) chain.FieldErrors {
	ref, ok := v.doc.Components.Schemas[schemaName]
	if !ok || ref.Value == nil {
		return chain.FieldErrors{{Field: "body", Message: "unknown schema " + schemaName}}
	}

	err := ref.Value.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	var out chain.FieldErrors
	collectSchemaErrors(err, &out)
	return out
}

func collectSchemaErrors(err error, out *chain.FieldErrors) {
	switch e := err.(type) {
	case openapi3.MultiError:
		for _, inner := range e {
			collectSchemaErrors(inner, out)
		}
	case *openapi3.SchemaError:
		*out = append(*out, chain.FieldError{Field: fieldPath(e.JSONPointer()), Message: e.Reason})
	default:
		*out = append(*out, chain.FieldError{Field: "body", Message: err.Error()})
	}
}

// fieldPath renders a JSON pointer as participantIds[1].
func fieldPath(pointer []string) string {
	if len(pointer) == 0 {
		return "body"
	}
	var b strings.Builder
	for i, part := range pointer {
		if _, err := strconv.Atoi(part); err == nil && i > 0 {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}
