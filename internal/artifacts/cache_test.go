package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrel-ops/guestagent/internal/codec"
	"github.com/kestrel-ops/guestagent/internal/logging"
	"github.com/kestrel-ops/guestagent/internal/plan"
)

func TestPutInlineTextFile(t *testing.T) {
	files := map[string]plan.File{
		"F1": {BodyType: plan.BodyTypeText, Body: "echo hi\n", Name: "run.sh"},
	}
	c, err := New(t.TempDir(), "planA", files, logging.New(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	link, err := c.PutEntryPoint("F1", "deploy")
	if err != nil {
		t.Fatalf("PutEntryPoint: %v", err)
	}
	data, err := os.ReadFile(link)
	if err != nil {
		t.Fatalf("reading materialised file: %v", err)
	}
	if string(data) != "echo hi\n" {
		t.Errorf("got %q", data)
	}
	if filepath.Base(link) != "run.sh" {
		t.Errorf("expected link named run.sh, got %s", link)
	}
}

func TestPutInlineBase64File(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xff, 'h', 'i'}
	files := map[string]plan.File{
		"F1": {BodyType: plan.BodyTypeBase64, Body: codec.EncodeBytes(raw), Name: "blob.bin"},
	}
	c, err := New(t.TempDir(), "planA", files, logging.New(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	link, err := c.PutEntryPoint("F1", "deploy")
	if err != nil {
		t.Fatalf("PutEntryPoint: %v", err)
	}
	data, err := os.ReadFile(link)
	if err != nil {
		t.Fatalf("reading materialised file: %v", err)
	}
	if string(data) != string(raw) {
		t.Errorf("got %v, want %v", data, raw)
	}
}

func TestPutRefAliasOverridesName(t *testing.T) {
	files := map[string]plan.File{
		"F1": {BodyType: plan.BodyTypeText, Body: "x", Name: "original.txt"},
	}
	c, err := New(t.TempDir(), "planA", files, logging.New(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	link, err := c.PutRef(plan.FileRef{FileID: "F1", Alias: "renamed.txt"}, "deploy")
	if err != nil {
		t.Fatalf("PutRef: %v", err)
	}
	if filepath.Base(link) != "renamed.txt" {
		t.Errorf("expected renamed.txt, got %s", link)
	}
}

func TestPutDownloadableUsesFetcherOnce(t *testing.T) {
	files := map[string]plan.File{
		"F1": {Type: plan.FileTypeDownloadable, URL: "https://example.com/pkg.tar.gz", Name: "pkg"},
	}
	c, err := New(t.TempDir(), "planA", files, logging.New(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	calls := 0
	c.fetch = func(url, destDir string) (string, error) {
		calls++
		path := filepath.Join(destDir, "pkg.tar.gz")
		if err := os.WriteFile(path, []byte("payload"), 0o600); err != nil {
			return "", err
		}
		return path, nil
	}

	link1, err := c.PutEntryPoint("F1", "deploy")
	if err != nil {
		t.Fatalf("first PutEntryPoint: %v", err)
	}
	link2, err := c.PutEntryPoint("F1", "configure")
	if err != nil {
		t.Fatalf("second PutEntryPoint: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected fetch to run once (memoized), ran %d times", calls)
	}
	for _, link := range []string{link1, link2} {
		data, err := os.ReadFile(link)
		if err != nil {
			t.Fatalf("reading %s: %v", link, err)
		}
		if string(data) != "payload" {
			t.Errorf("got %q", data)
		}
	}
}

func TestUnknownFileIDFails(t *testing.T) {
	c, err := New(t.TempDir(), "planA", map[string]plan.File{}, logging.New(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.PutEntryPoint("nope", "deploy"); err == nil {
		t.Fatal("expected an error for an unknown file id")
	}
}

func TestClearRemovesCacheDirectory(t *testing.T) {
	storage := t.TempDir()
	files := map[string]plan.File{"F1": {BodyType: plan.BodyTypeText, Body: "x", Name: "x"}}
	c, err := New(storage, "planA", files, logging.New(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.PutEntryPoint("F1", "deploy"); err != nil {
		t.Fatalf("PutEntryPoint: %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(c.root); !os.IsNotExist(err) {
		t.Fatalf("expected cache root to be gone, stat err=%v", err)
	}
}

func TestNewResetsStaleCacheFromCrashedRun(t *testing.T) {
	storage := t.TempDir()
	stale := filepath.Join(storage, "files", "planA")
	if err := os.MkdirAll(stale, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "leftover"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	c, err := New(storage, "planA", map[string]plan.File{}, logging.New(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(filepath.Join(c.root, "leftover")); !os.IsNotExist(err) {
		t.Fatalf("expected stale leftover to be gone")
	}
}

func TestSchemeDetection(t *testing.T) {
	cases := []struct {
		url      string
		wantGit  bool
		wantSVN  bool
	}{
		{"git://example.com/repo.git", true, false},
		{"git+https://example.com/repo", true, false},
		{"https://example.com/repo.git", true, false},
		{"svn://example.com/trunk", false, true},
		{"https://example.com/svn/project/trunk", false, true},
		{"https://example.com/pkg.tar.gz", false, false},
		{"httpp://example.com/svn/project/trunk", false, false},
		{"svn:path", false, false},
	}
	for _, c := range cases {
		if got := isGitURL(c.url); got != c.wantGit {
			t.Errorf("isGitURL(%q) = %v, want %v", c.url, got, c.wantGit)
		}
		if got := isSVNURL(c.url); got != c.wantSVN {
			t.Errorf("isSVNURL(%q) = %v, want %v", c.url, got, c.wantSVN)
		}
	}
}
