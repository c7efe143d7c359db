package services

import "testing"

func TestEncodePayload(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		data    string
		answers string
	}{
		{"empty", "", "{}", ""},
		{"whitespace", "  \n", "{}", ""},
		{"object", `{ "a" : 1 }`, `{"a":1}`, ""},
		{"answers", `{"answers": [1, 2]}`, `{"answers":[1,2]}`, `[1,2]`},
		{"null answers", `{"answers": null}`, `{"answers":null}`, ""},
		{"false answers", `{"answers":false,"x":1}`, `{"answers":false,"x":1}`, ""},
		{"zero answers", `{"answers":0}`, `{"answers":0}`, ""},
		{"empty string answers", `{"answers":""}`, `{"answers":""}`, ""},
		{"true answers", `{"answers":true}`, `{"answers":true}`, "true"},
		{"empty object answers", `{"answers":{}}`, `{"answers":{}}`, "{}"},
		{"array", `[1, 2]`, `[1,2]`, ""},
		{"scalar", `"hi"`, `"hi"`, ""},
	}
	for _, tc := range cases {
		data, answers, err := EncodePayload([]byte(tc.body))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if data != tc.data || string(answers) != tc.answers {
			t.Fatalf("%s: got (%s, %s), want (%s, %s)", tc.name, data, answers, tc.data, tc.answers)
		}
	}
}

func TestEncodePayloadInvalid(t *testing.T) {
	for _, body := range []string{`{`, `{"a":}`, `nope`, "{\"a\":\"\xff\xfe\"}"} {
		if _, _, err := EncodePayload([]byte(body)); !IsCode(err, ErrorInvalid) {
			t.Fatalf("%q: expected invalid, got %v", body, err)
		}
	}
}

func TestExportValuePrefersAnswers(t *testing.T) {
	if got := ExportValue(&Submission{Data: `{"answers":{"x":1}}`, Answers: []byte(`{"x":1}`)}); got != `{"x":1}` {
		t.Fatalf("ExportValue = %s", got)
	}
	if got := ExportValue(&Submission{Data: `{"y":2}`}); got != `{"y":2}` {
		t.Fatalf("ExportValue = %s", got)
	}
}

func TestEncodePayloadRejectsInvalidUTF8(t *testing.T) {
	body := []byte{'{', '"', 'a', '"', ':', '"', 0xff, 0xfe, '"', '}'}
	_, _, err := EncodePayload(body)
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorInvalid || se.Message != "payload must be valid UTF-8" {
		t.Fatalf("expected invalid UTF-8 error, got %v", err)
	}
}
