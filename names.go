// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"reflect"
	"runtime"
	"strings"
	"unicode"
)

// anonymousName is the display name given to function literals.
const anonymousName = "<lambda>"

// funcName derives a display name for a Go function value from its symbol.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return anonymousName
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		// This branch cannot easily be tested, so ignore it in coverage reports.
		return anonymousName
	}
	return extractFunctionName(f.Name())
}

// extractFunctionName extracts the simple function name from a full Go function path.
//
// Examples:
//   - "github.com/sam-fredrickson/metaflow.upper" -> "upper"
//   - "main.(*Server).HandleRequest-fm" -> "HandleRequest"
//   - "github.com/user/pkg.Wrap[...]" -> "Wrap"
//   - "github.com/user/pkg.TestPipe.func1" -> "<lambda>"
func extractFunctionName(fullName string) string {
	// Split by path separators to get the last component
	parts := strings.Split(fullName, "/")
	lastPart := parts[len(parts)-1]

	lastPart = strings.TrimSuffix(lastPart, "-fm")
	if idx := strings.Index(lastPart, "["); idx != -1 {
		lastPart = lastPart[:idx] + lastPart[strings.LastIndex(lastPart, "]")+1:]
	}

	// Handle package.FunctionName or package.(*Type).Method
	// After taking everything after the last ".", we get just the function/method name
	if idx := strings.LastIndex(lastPart, "."); idx != -1 {
		lastPart = lastPart[idx+1:]
	}

	if isClosureName(lastPart) {
		return anonymousName
	}
	return lastPart
}

// isClosureName reports whether name is a compiler-generated closure name
// such as "func1" or "2".
func isClosureName(name string) bool {
	digits := strings.TrimPrefix(name, "func")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
