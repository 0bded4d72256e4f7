// Package extract pulls variables out of JSON messages with JMESPath.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmespath/go-jmespath"
)

// ErrNotJSON is returned when the message cannot be decoded as JSON
var ErrNotJSON = errors.New("message is not valid JSON")

// Variables evaluates each rule (variable name -> JMESPath expression)
// against body and returns the values as strings
func Variables(rules map[string]string, body string) (map[string]string, error) {
	if len(rules) == 0 {
		return nil, nil
	}

	var jsonData interface{}
	if err := json.Unmarshal([]byte(body), &jsonData); err != nil {
		return nil, fmt.Errorf("cannot extract variables: %w", ErrNotJSON)
	}

	extracted := make(map[string]string, len(rules))
	for varName, jmesPath := range rules {
		result, err := jmespath.Search(jmesPath, jsonData)
		if err != nil {
			return nil, fmt.Errorf("failed to extract variable %s using path %s: %w", varName, jmesPath, err)
		}

		value, err := stringify(result)
		if err != nil {
			return nil, fmt.Errorf("variable %s: JMESPath %s: %w", varName, jmesPath, err)
		}
		extracted[varName] = value
	}

	return extracted, nil
}

func stringify(result interface{}) (string, error) {
	switch v := result.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%g", v), nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	case nil:
		return "", errors.New("returned null")
	default:
		// For complex types, marshal to JSON
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to convert extracted value to string: %w", err)
		}
		return string(jsonBytes), nil
	}
}

// Validate compiles every expression without evaluating it
func Validate(rules map[string]string) error {
	for varName, expr := range rules {
		if _, err := jmespath.Compile(expr); err != nil {
			return fmt.Errorf("variable %s: invalid JMESPath %q: %w", varName, expr, err)
		}
	}
	return nil
}
