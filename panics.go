package hsm

import (
	"fmt"
	"runtime"
	"strings"
)

// PanicError wraps a panic recovered from user callback code when panic
// capture is enabled on an instance. The stack trace is trimmed to start at
// the panicking frame.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("callback panic: %v", e.Value)
}

func newPanicError(value any) *PanicError {
	stack := make([]byte, 8096)
	n := runtime.Stack(stack, false)
	return &PanicError{Value: value, Stack: cleanStackTrace(stack[:n])}
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// drop the panic() call line and its file reference line
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
