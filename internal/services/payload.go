package services

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// EncodePayload turns a respondent body into the stored representation.
// The body is kept as compact JSON so it decodes back to the same structure;
// an empty body is stored as an empty object. When the body is an object with a
// truthy "answers" member, that member is returned separately.
func EncodePayload(body []byte) (string, json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !utf8.Valid(body) {
		return "", nil, NewInvalidError("payload must be valid UTF-8")
	}
	if !json.Valid(body) {
		return "", nil, NewInvalidError("payload must be valid JSON")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return "", nil, NewInvalidError("payload must be valid JSON")
	}
	data := buf.String()
	if body[0] != '{' {
		return data, nil, nil
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &members); err != nil {
		return "", nil, NewInvalidError("payload must be valid JSON")
	}
	answers, ok := members["answers"]
	if !ok || isFalsy(answers) {
		return data, nil, nil
	}
	return data, answers, nil
}

// isFalsy reports whether v is null, false, zero or the empty string. Such an
// answers member does not replace the payload on export.
func isFalsy(v json.RawMessage) bool {
	var x any
	if err := json.Unmarshal(v, &x); err != nil {
		return false
	}
	switch t := x.(type) {
	case nil:
		return true
	case bool:
		return !t
	case float64:
		return t == 0
	case string:
		return t == ""
	}
	return false
}

// ExportValue is the JSON text written to the data column of an export.
func ExportValue(s *Submission) string {
	if len(s.Answers) > 0 {
		return string(s.Answers)
	}
	return s.Data
}
