package scan

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dop251/goja"
)

// evalTimeout bounds evaluation of page-supplied object literals.
const evalTimeout = 2 * time.Second

// ErrNotObject is returned when the literal does not evaluate to an object.
var ErrNotObject = errors.New("literal is not an object")

// LooseJSON parses a JavaScript object literal (unquoted keys, single quoted
// strings, trailing commas) into a map. The literal is evaluated in an
// isolated goja runtime with no host bindings.
func LooseJSON(literal string) (map[string]any, error) {
	vm := goja.New()
	timer := time.AfterFunc(evalTimeout, func() {
		vm.Interrupt("object literal evaluation timed out")
	})
	defer timer.Stop()

	value, err := vm.RunString("(" + literal + ")")
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate object literal: %w", err)
	}

	obj, ok := value.Export().(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// StringField returns obj[key] rendered as a string, or "" when absent or null.
// Integral numbers are rendered without a fractional part.
func StringField(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return fmt.Sprint(v)
}
