package validate

import (
	"encoding/json"
	"testing"

	"github.com/kestrel-ops/guestagent/internal/agenterr"
)

func parseDoc(t *testing.T, js string) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal([]byte(js), &doc); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return doc
}

func errCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	e, ok := err.(*agenterr.AgentError)
	if !ok {
		t.Fatalf("error %v is not an *agenterr.AgentError", err)
	}
	return e.Code
}

func TestValidFormatVersionBoundary(t *testing.T) {
	doc := parseDoc(t, `{"FormatVersion":"2.2.0","Scripts":{},"Files":{}}`)
	if err := Validate(doc); err != nil {
		t.Fatalf("2.2.0 should be accepted: %v", err)
	}
}

func TestRejectsAboveMaxFormatVersion(t *testing.T) {
	for _, v := range []string{"2.2.1", "1000.0.0"} {
		doc := parseDoc(t, `{"FormatVersion":"`+v+`","Scripts":{},"Files":{}}`)
		err := Validate(doc)
		if got := errCode(t, err); got != 9 {
			t.Errorf("version %s: got code %d, want 9", v, got)
		}
	}
}

func TestDownloadableFileBelow210Rejected(t *testing.T) {
	doc := parseDoc(t, `{
		"FormatVersion":"2.0.5",
		"Scripts":{},
		"Files":{"F1":{"Type":"Downloadable","URL":"http://x/y","Name":"y"}}
	}`)
	if got := errCode(t, Validate(doc)); got != 2 {
		t.Errorf("got code %d, want 2", got)
	}
}

func TestUseBerkshelfGating(t *testing.T) {
	// Rejected below 2.2.0.
	doc := parseDoc(t, `{
		"FormatVersion":"2.1.0",
		"Scripts":{"s":{"Type":"Chef","EntryPoint":"cb::recipe","Options":{"useBerkshelf":true}}},
		"Files":{}
	}`)
	if got := errCode(t, Validate(doc)); got != 2 {
		t.Errorf("2.1.0+useBerkshelf: got code %d, want 2", got)
	}

	// Rejected at 2.2.0 for a non-Chef type.
	doc = parseDoc(t, `{
		"FormatVersion":"2.2.0",
		"Scripts":{"s":{"Type":"Puppet","EntryPoint":"mod::recipe","Options":{"useBerkshelf":true}}},
		"Files":{}
	}`)
	if got := errCode(t, Validate(doc)); got != 2 {
		t.Errorf("2.2.0+Puppet+useBerkshelf: got code %d, want 2", got)
	}

	// Accepted at 2.2.0 for Chef.
	doc = parseDoc(t, `{
		"FormatVersion":"2.2.0",
		"Scripts":{"s":{"Type":"Chef","EntryPoint":"cb::recipe","Options":{"useBerkshelf":true}}},
		"Files":{}
	}`)
	if err := Validate(doc); err != nil {
		t.Errorf("2.2.0+Chef+useBerkshelf should be accepted: %v", err)
	}
}

func TestChefEntryPointWithoutDoubleColon(t *testing.T) {
	doc := parseDoc(t, `{
		"FormatVersion":"2.1.0",
		"Scripts":{"deploy":{"Type":"Chef","EntryPoint":"cookbook"}},
		"Files":{}
	}`)
	if got := errCode(t, Validate(doc)); got != 2 {
		t.Errorf("got code %d, want 2", got)
	}
}

func TestApplicationMissingEntryPointFile(t *testing.T) {
	doc := parseDoc(t, `{
		"FormatVersion":"2.1.0",
		"Scripts":{"deploy":{"Type":"Application","EntryPoint":"missing"}},
		"Files":{}
	}`)
	if got := errCode(t, Validate(doc)); got != 2 {
		t.Errorf("got code %d, want 2", got)
	}
}

func TestHappyPathApplication(t *testing.T) {
	doc := parseDoc(t, `{
		"FormatVersion":"2.1.0",
		"ID":"P1",
		"Scripts":{"deploy":{"Type":"Application","EntryPoint":"F1","Files":[],"Options":{"captureStdout":true}}},
		"Files":{"F1":{"BodyType":"Text","Body":"#!/bin/sh\necho hi\n","Name":"run.sh"}},
		"Body":"return deploy().stdout"
	}`)
	if err := Validate(doc); err != nil {
		t.Fatalf("expected valid plan: %v", err)
	}
}

func TestMissingTopLevelKeys(t *testing.T) {
	doc := parseDoc(t, `{"FormatVersion":"2.0.0"}`)
	if got := errCode(t, Validate(doc)); got != 2 {
		t.Errorf("got code %d, want 2", got)
	}
}

func TestDefaultsFormatVersionWhenAbsent(t *testing.T) {
	doc := parseDoc(t, `{
		"Scripts":{"deploy":{"Type":"Application","EntryPoint":"F1"}},
		"Files":{"F1":{"BodyType":"Text","Body":"x","Name":"x"}}
	}`)
	if err := Validate(doc); err != nil {
		t.Fatalf("default FormatVersion 1.0.0 should validate this plan: %v", err)
	}
}
