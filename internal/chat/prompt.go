package chat

import (
	"errors"
	"strings"
)

const (
	instructionMarker = "### Instruction:"
	responseMarker    = "### Response:"
)

// ErrMissingMarker is returned when decoded model output does not contain the
// response marker, which means the prompt echo cannot be separated from the
// completion.
var ErrMissingMarker = errors.New(`model output is missing the "### Response:" marker`)

// FormatPrompt wraps message in the instruction template the model was tuned
// on. The message is inserted verbatim.
func FormatPrompt(message string) string {
	return instructionMarker + "\n" + message + "\n\n" + responseMarker
}

// ExtractResponse returns the text after the last response marker in decoded,
// trimmed of surrounding whitespace. The last occurrence is used because the
// completion itself may repeat the marker.
func ExtractResponse(decoded string) (string, error) {
	i := strings.LastIndex(decoded, responseMarker)
	if i < 0 {
		return "", ErrMissingMarker
	}
	return strings.TrimSpace(decoded[i+len(responseMarker):]), nil
}
