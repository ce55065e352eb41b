package hexline

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeError is returned when a non-blank line is not valid hex.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode hex line %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode turns one input line into a payload. Blank lines report skip=true
// with no error. Spaces are ignored anywhere in the line; other ASCII
// whitespace only between byte pairs.
func Decode(line string) (payload []byte, skip bool, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, true, nil
	}

	groups := strings.FieldsFunc(strings.ReplaceAll(trimmed, " ", ""), isASCIISpace)
	for _, group := range groups {
		if len(group)%2 != 0 {
			return nil, false, &DecodeError{Line: trimmed, Err: hex.ErrLength}
		}
	}

	payload, err = hex.DecodeString(strings.Join(groups, ""))
	if err != nil {
		return nil, false, &DecodeError{Line: trimmed, Err: err}
	}
	return payload, false, nil
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// Encode renders a payload as space separated upper-case byte pairs,
// the same shape the input files use.
func Encode(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(payload) * 3)
	for i, c := range payload {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}
