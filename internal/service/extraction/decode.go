package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ResultKind tags the outcome of decoding a model reply.
type ResultKind int

const (
	// ResultOK means the reply was a JSON array whose every element matched the schema.
	ResultOK ResultKind = iota
	// ResultSchemaMismatch means the reply was valid JSON of the wrong shape.
	ResultSchemaMismatch
	// ResultParseError means the reply was not JSON at all.
	ResultParseError
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultSchemaMismatch:
		return "schema_mismatch"
	case ResultParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of Decode. Items is only set when Kind is ResultOK.
type Result[T any] struct {
	Kind  ResultKind
	Items []T
	Err   error
}

// Schema describes what each array element must look like.
type Schema[T any] struct {
	// Required lists keys that must be present in every element (null counts as present).
	Required []string
	// Validate checks an element after decoding; nil accepts everything.
	Validate func(T) error
}

// Decode strictly parses raw as a JSON array of T. Nothing is repaired: surrounding prose,
// code fences, a top-level object, unknown keys or a failed check all reject the whole reply.
func Decode[T any](raw string, schema Schema[T]) Result[T] {
	data := bytes.TrimSpace([]byte(raw))
	if !json.Valid(data) {
		return Result[T]{Kind: ResultParseError, Err: errors.New("reply is not valid JSON")}
	}
	if data[0] != '[' {
		return Result[T]{Kind: ResultSchemaMismatch, Err: fmt.Errorf("top-level value is %s, want array", jsonKind(data[0]))}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return Result[T]{Kind: ResultParseError, Err: err}
	}
	items := make([]T, 0, len(elems))
	for i, elem := range elems {
		elem = bytes.TrimSpace(elem)
		if elem[0] != '{' {
			return mismatch[T]("element %d is %s, want object", i, jsonKind(elem[0]))
		}
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(elem, &keys); err != nil {
			return mismatch[T]("element %d: %v", i, err)
		}
		for _, key := range schema.Required {
			if _, ok := keys[key]; !ok {
				return mismatch[T]("element %d: missing %q", i, key)
			}
		}

		var item T
		dec := json.NewDecoder(bytes.NewReader(elem))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&item); err != nil {
			return mismatch[T]("element %d: %v", i, err)
		}
		if schema.Validate != nil {
			if err := schema.Validate(item); err != nil {
				return mismatch[T]("element %d: %v", i, err)
			}
		}
		items = append(items, item)
	}
	return Result[T]{Kind: ResultOK, Items: items}
}

func mismatch[T any](format string, args ...interface{}) Result[T] {
	return Result[T]{Kind: ResultSchemaMismatch, Err: fmt.Errorf(format, args...)}
}

func jsonKind(first byte) string {
	switch first {
	case '{':
		return "an object"
	case '[':
		return "an array"
	case '"':
		return "a string"
	case 't', 'f':
		return "a boolean"
	case 'n':
		return "null"
	default:
		return "a number"
	}
}
