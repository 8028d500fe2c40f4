package puppet

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestManifestWithClass(t *testing.T) {
	e := &Executor{module: "ntp", class: "config"}
	got := e.manifest()
	want := "node 'default' { class { ntp::config: } }"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestManifestWithoutClass(t *testing.T) {
	e := &Executor{module: "ntp", class: ""}
	got := e.manifest()
	want := "node 'default' { class { ntp: } }"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConfigureHieraWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	e := &Executor{path: dir}
	if err := e.configureHiera(); err != nil {
		t.Fatalf("configureHiera: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hiera.yaml"))
	if err != nil {
		t.Fatalf("read hiera.yaml: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal hiera.yaml: %v", err)
	}
	if doc["backends"] != "yaml" {
		t.Errorf("got backends %v", doc["backends"])
	}
}

func TestGenerateFilesWritesHieraScopedAttributes(t *testing.T) {
	dir := t.TempDir()
	e := &Executor{path: dir, module: "ntp", class: "config"}
	if err := e.generateFiles(map[string]any{"servers": "pool.ntp.org"}); err != nil {
		t.Fatalf("generateFiles: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "default.yaml"))
	if err != nil {
		t.Fatalf("read default.yaml: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal default.yaml: %v", err)
	}
	if doc["ntp::servers"] != "pool.ntp.org" {
		t.Errorf("got %+v", doc)
	}
}

func TestGenerateFilesSkipsHieraWhenNoAttributes(t *testing.T) {
	dir := t.TempDir()
	e := &Executor{path: dir, module: "ntp", class: "config"}
	if err := e.generateFiles(nil); err != nil {
		t.Fatalf("generateFiles: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "default.yaml")); !os.IsNotExist(err) {
		t.Error("expected default.yaml to be absent")
	}
}
