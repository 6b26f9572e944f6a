package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// splitField splits "key=value" into (key, value, true).
// Returns ("", "", false) if there is no '=' or key is empty.
func splitField(s string) (string, string, bool) {
	i := strings.IndexByte(s, '=')
	if i <= 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// rawOrString returns v as raw JSON when it looks like a JSON literal
// (object, array, quoted string, boolean, null or number), and as a JSON
// string otherwise.
func rawOrString(v string) json.RawMessage {
	if len(v) > 0 {
		switch c := v[0]; {
		case c == '{' || c == '[' || c == '"':
			if json.Valid([]byte(v)) {
				return json.RawMessage(v)
			}
		case v == "true" || v == "false" || v == "null":
			return json.RawMessage(v)
		case c == '-' || unicode.IsDigit(rune(c)):
			if json.Valid([]byte(v)) {
				return json.RawMessage(v)
			}
		}
	}
	quoted, _ := json.Marshal(v)
	return quoted
}

// parseFields turns "--set key=value" arguments into a partial update.
func parseFields(args []string) (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage, len(args))
	for _, a := range args {
		k, v, ok := splitField(a)
		if !ok {
			return nil, fmt.Errorf("invalid field %q (want key=value)", a)
		}
		fields[k] = rawOrString(v)
	}
	return fields, nil
}

// valueFor parses a config or override value given on the command line. A
// string config takes the text as is unless it is already a quoted JSON
// string; other types need a JSON literal.
func valueFor(dataType model.DataType, v string) json.RawMessage {
	if dataType == model.TypeString {
		if strings.HasPrefix(v, `"`) && json.Valid([]byte(v)) {
			return json.RawMessage(v)
		}
		quoted, _ := json.Marshal(v)
		return quoted
	}
	return rawOrString(v)
}
