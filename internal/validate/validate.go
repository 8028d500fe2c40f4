// Package validate implements the version-aware execution-plan validator
// (§4.D): a compiled JSON Schema checks the document's gross shape, then a
// hand-written, format-version-gated pass checks the cross-field rules that
// no generic schema can express cleanly (EntryPoint must reference a known
// file id, Chef-only options, the Puppet/Chef "::" convention, and so on).
//
// Ported rule-for-rule from muranoagent/validation.py, which evaluates rules
// in order and aborts on the first failure; this package preserves that
// order so error codes and messages match.
package validate

import (
	"fmt"

	"golang.org/x/mod/semver"

	"github.com/kestrel-ops/guestagent/internal/agenterr"
)

const (
	defaultFormatVersion = "1.0.0"
	maxFormatVersion     = "2.2.0"
)

// semverOf turns a bare "X.Y.Z" plan FormatVersion into the "vX.Y.Z" form
// golang.org/x/mod/semver requires, the same dependency the teacher repo
// uses for exactly this purpose in core/types/validation.go.
func semverOf(v string) string { return "v" + v }

// Validate checks doc, the generic JSON document of an execution plan,
// against every rule in §4.D, in order. doc's map values are whatever
// encoding/json produced (map[string]interface{}, []interface{}, string,
// float64, bool, nil).
func Validate(doc map[string]any) error {
	formatVersion := defaultFormatVersion
	if v, ok := doc["FormatVersion"].(string); ok && v != "" {
		formatVersion = v
	}

	sv := semverOf(formatVersion)
	if !semver.IsValid(sv) {
		return agenterr.IncorrectFormat(9, "malformed FormatVersion %q", formatVersion)
	}
	if semver.Compare(sv, semverOf(maxFormatVersion)) > 0 {
		return agenterr.IncorrectFormat(9,
			"Unsupported format version %s (I support versions <=%s)",
			formatVersion, maxFormatVersion)
	}

	shape, err := topLevelShape()
	if err != nil {
		return fmt.Errorf("compiling plan shape schema: %w", err)
	}
	if err := shape.Validate(doc); err != nil {
		return agenterr.IncorrectFormat(2, "%v", err)
	}

	files, _ := doc["Files"].(map[string]any)

	scripts, _ := doc["Scripts"].(map[string]any)
	for name, raw := range scripts {
		script, ok := raw.(map[string]any)
		if !ok {
			return agenterr.IncorrectFormat(2, "script %s is not an object", name)
		}
		if err := validateScript(name, script, sv, files); err != nil {
			return err
		}
	}

	for key, raw := range files {
		f, ok := raw.(map[string]any)
		if !ok {
			return agenterr.IncorrectFormat(2, "file %s is not an object", key)
		}
		if err := validateFile(key, f, sv); err != nil {
			return err
		}
	}

	return nil
}

func validateScript(name string, script map[string]any, formatVersion string, files map[string]any) error {
	scriptType, typeOK := script["Type"].(string)
	entryPoint, entryOK := script["EntryPoint"].(string)
	if !typeOK {
		return agenterr.IncorrectFormat(2, "incorrect Type entry in script %s", name)
	}
	if !entryOK {
		return agenterr.IncorrectFormat(2, "incorrect EntryPoint entry in script %s", name)
	}

	switch {
	case semver.Compare(formatVersion, semverOf("2.1.0")) < 0:
		// Below 2.1.0 (including the 1.0.0 default): Application only,
		// EntryPoint must be a known file id.
		if scriptType != "Application" {
			return agenterr.IncorrectFormat(2,
				"Type %s is not valid for format %s", scriptType, stripV(formatVersion))
		}
		if _, known := files[entryPoint]; !known {
			return agenterr.IncorrectFormat(2,
				"script %s misses entry point %s", name, entryPoint)
		}
	default:
		// >=2.1.0: Application, Chef or Puppet.
		switch scriptType {
		case "Application":
			if _, known := files[entryPoint]; !known {
				return agenterr.IncorrectFormat(2,
					"script %s misses entry point %s", name, entryPoint)
			}
		case "Chef", "Puppet":
			if !containsDoubleColon(entryPoint) {
				return agenterr.IncorrectFormat(2,
					"wrong EntryPoint %s for Puppet/Chef executors; :: needed", entryPoint)
			}
		default:
			return agenterr.IncorrectFormat(2, "script has an invalid type %s", scriptType)
		}

		options, _ := script["Options"].(map[string]any)
		for option := range options {
			if option != "useBerkshelf" && option != "berksfilePath" {
				continue
			}
			if semver.Compare(formatVersion, semverOf("2.2.0")) < 0 {
				return agenterr.IncorrectFormat(2,
					"script has an option %s invalid for version %s", option, stripV(formatVersion))
			}
			if scriptType != "Chef" {
				return agenterr.IncorrectFormat(2,
					"script has an option %s invalid for type %s", option, scriptType)
			}
		}
	}

	rawList, _ := script["Files"].([]any)
	for _, entry := range rawList {
		missing := fmt.Sprintf("script %s misses file %v", name, entry)
		switch v := entry.(type) {
		case string:
			if _, known := files[v]; !known {
				return agenterr.IncorrectFormat(2, "%s", missing)
			}
		case map[string]any:
			if len(v) != 1 {
				return agenterr.IncorrectFormat(2, "%s", missing)
			}
			for _, id := range v {
				idStr, ok := id.(string)
				if !ok {
					return agenterr.IncorrectFormat(2, "%s", missing)
				}
				if _, known := files[idStr]; !known {
					return agenterr.IncorrectFormat(2, "%s", missing)
				}
			}
		default:
			return agenterr.IncorrectFormat(2, "%s", missing)
		}
	}

	return nil
}

func validateFile(key string, f map[string]any, formatVersion string) error {
	if semver.Compare(formatVersion, semverOf("2.1.0")) < 0 {
		if _, has := f["Type"]; has {
			return agenterr.IncorrectFormat(2,
				"download file %s is not valid for this version %s", key, stripV(formatVersion))
		}
		if _, has := f["URL"]; has {
			return agenterr.IncorrectFormat(2,
				"download file %s is not valid for this version %s", key, stripV(formatVersion))
		}
	}

	if _, has := f["Type"]; has {
		for _, attr := range []string{"Type", "URL", "Name"} {
			if _, ok := f[attr]; !ok {
				return agenterr.IncorrectFormat(2, "incorrect %s entry in file %s", attr, key)
			}
		}
		return nil
	}

	if _, has := f["Body"]; has {
		for _, attr := range []string{"BodyType", "Body", "Name"} {
			if _, ok := f[attr]; !ok {
				return agenterr.IncorrectFormat(2, "incorrect %s entry in file %s", attr, key)
			}
		}
		bodyType, _ := f["BodyType"].(string)
		if bodyType != "Text" && bodyType != "Base64" {
			return agenterr.IncorrectFormat(2, "incorrect BodyType in file %s", key)
		}
		return nil
	}

	return agenterr.IncorrectFormat(2, "invalid file %s: neither Type nor Body present", key)
}

func containsDoubleColon(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == ':' && s[i+1] == ':' {
			return true
		}
	}
	return false
}

func stripV(v string) string {
	if len(v) > 0 && v[0] == 'v' {
		return v[1:]
	}
	return v
}
