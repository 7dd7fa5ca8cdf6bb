// Package template renders JSONata expressions used by edge data-mappings
// and webhook entity-mappings.
package template

import (
	"errors"
	"fmt"

	jsonata "github.com/blues/jsonata-go"
)

// Parse compiles an expression without evaluating it, for validation at
// flow-save time.
func Parse(expression string) (*jsonata.Expr, error) {
	expr, err := jsonata.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression '%s': %w", expression, err)
	}

	return expr, nil
}

// Render evaluates a JSONata expression against data. An expression that
// evaluates to undefined yields nil without error, so optional fields in a
// mapping don't abort the whole render.
func Render(expression string, data any) (any, error) {
	expr, err := Parse(expression)
	if err != nil {
		return nil, err
	}

	result, err := expr.Eval(data)
	if err != nil {
		if errors.Is(err, jsonata.ErrUndefined) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to evaluate expression '%s': %w", expression, err)
	}

	return result, nil
}

// RenderMapping applies a field->expression mapping to data, producing the
// reshaped payload an edge delivers downstream. Fields whose expression
// evaluates to undefined are omitted.
func RenderMapping(mapping map[string]string, data any) (map[string]any, error) {
	result := make(map[string]any, len(mapping))

	for field, expression := range mapping {
		value, err := Render(expression, data)
		if err != nil {
			return nil, fmt.Errorf("mapping field '%s': %w", field, err)
		}

		if value == nil {
			continue
		}

		result[field] = value
	}

	return result, nil
}
