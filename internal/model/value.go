package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Value is a config value tagged with its data type. Only the field that
// matches Type is meaningful. Values are produced by Coerce.
//
// NumText holds the literal of a number that float64 cannot represent
// exactly; Num is then its nearest approximation.
type Value struct {
	Type    DataType
	Str     string
	Num     float64
	NumText string
	Bool    bool
	JSON    json.RawMessage
}

// Raw returns the canonical JSON encoding of the value.
func (v Value) Raw() json.RawMessage {
	switch v.Type {
	case TypeString:
		b, _ := json.Marshal(v.Str)
		return b
	case TypeNumber:
		if v.NumText != "" {
			return json.RawMessage(v.NumText)
		}
		return json.RawMessage(strconv.FormatFloat(v.Num, 'f', -1, 64))
	case TypeBoolean:
		if v.Bool {
			return json.RawMessage("true")
		}
		return json.RawMessage("false")
	case TypeJSON:
		return cloneRaw(v.JSON)
	}
	return json.RawMessage("null")
}

// MarshalJSON encodes the value in its canonical form.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Raw(), nil
}

// Interface returns the value as a plain Go value (string, float64, bool,
// or the decoded JSON document). Numbers that float64 would round are
// returned as json.Number.
func (v Value) Interface() any {
	switch v.Type {
	case TypeString:
		return v.Str
	case TypeNumber:
		if v.NumText != "" {
			return json.Number(v.NumText)
		}
		return v.Num
	case TypeBoolean:
		return v.Bool
	case TypeJSON:
		var out any
		_ = json.Unmarshal(v.JSON, &out)
		return out
	}
	return nil
}

// Coerce interprets raw under dataType and returns the typed value.
//
//   - string: a JSON string, or the literal text of any other scalar.
//   - number: a JSON number or a numeric string; NaN and infinities are rejected.
//   - boolean: a JSON boolean or the strings "true" / "false".
//   - json: any JSON document, or a JSON string whose contents are a JSON document.
func Coerce(dataType DataType, raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Value{}, fmt.Errorf("value is required")
	}
	if !json.Valid(raw) {
		return Value{}, fmt.Errorf("value is not valid JSON")
	}

	var str string
	isString := raw[0] == '"'
	if isString {
		if err := json.Unmarshal(raw, &str); err != nil {
			return Value{}, fmt.Errorf("decode string: %w", err)
		}
	}

	switch dataType {
	case TypeString:
		if isString {
			return Value{Type: TypeString, Str: str}, nil
		}
		if raw[0] == '{' || raw[0] == '[' || string(raw) == "null" {
			return Value{}, fmt.Errorf("must be a string")
		}
		return Value{Type: TypeString, Str: string(raw)}, nil

	case TypeNumber:
		text := string(raw)
		if isString {
			text = strings.TrimSpace(str)
		} else if raw[0] == '{' || raw[0] == '[' || raw[0] == 't' || raw[0] == 'f' || raw[0] == 'n' {
			return Value{}, fmt.Errorf("must be a number")
		}
		n, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, fmt.Errorf("must be a number, got %s", raw)
		}
		if exact, ok := exactFloat(text, n); !ok {
			if !isJSONNumber(text) {
				return Value{}, fmt.Errorf("number %s cannot be stored exactly", text)
			}
			return Value{Type: TypeNumber, Num: n, NumText: exact}, nil
		}
		return Value{Type: TypeNumber, Num: n}, nil

	case TypeBoolean:
		switch {
		case string(raw) == "true", isString && str == "true":
			return Value{Type: TypeBoolean, Bool: true}, nil
		case string(raw) == "false", isString && str == "false":
			return Value{Type: TypeBoolean, Bool: false}, nil
		}
		return Value{}, fmt.Errorf("must be a boolean, got %s", raw)

	case TypeJSON:
		doc := raw
		if isString {
			inner := bytes.TrimSpace([]byte(str))
			if len(inner) == 0 || !json.Valid(inner) {
				return Value{}, fmt.Errorf("must be a JSON document")
			}
			doc = inner
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, doc); err != nil {
			return Value{}, fmt.Errorf("must be a JSON document: %w", err)
		}
		return Value{Type: TypeJSON, JSON: json.RawMessage(compact.Bytes())}, nil
	}

	return Value{}, fmt.Errorf("unknown data type %q", dataType)
}

// maxExactExponent bounds the decimal exponents compared exactly. Anything
// larger is beyond float64 range.
const maxExactExponent = 400

// exactFloat reports whether the shortest decimal form of n denotes the same
// number as text. When it does not, it returns text as the literal to keep.
func exactFloat(text string, n float64) (string, bool) {
	if i := strings.IndexAny(text, "eE"); i >= 0 {
		exp, err := strconv.Atoi(strings.TrimPrefix(text[i+1:], "+"))
		if err != nil || exp > maxExactExponent || exp < -maxExactExponent {
			return text, false
		}
	}
	want, ok := new(big.Rat).SetString(text)
	if !ok {
		return "", true
	}
	got, _ := new(big.Rat).SetString(strconv.FormatFloat(n, 'f', -1, 64))
	if got != nil && got.Cmp(want) == 0 {
		return "", true
	}
	return text, false
}

// isJSONNumber reports whether s is a JSON number literal.
func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	var n json.Number
	return json.Unmarshal([]byte(s), &n) == nil
}
