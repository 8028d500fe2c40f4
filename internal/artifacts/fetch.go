package artifacts

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// fetchFunc downloads url into destDir (already created, empty) and returns
// the path to the resulting artifact: destDir itself for git/svn checkouts,
// or destDir/<basename> for a plain HTTP(S) download.
type fetchFunc func(url, destDir string) (string, error)

// defaultFetch dispatches on URL scheme, matching muranoagent's
// FilesManager._fetch_file: git and svn repositories are checked out whole,
// anything else is streamed over HTTP(S).
func defaultFetch(url, destDir string) (string, error) {
	switch {
	case isGitURL(url):
		return fetchGit(url, destDir)
	case isSVNURL(url):
		return fetchSVN(url, destDir)
	default:
		return fetchHTTP(url, destDir)
	}
}

func isGitURL(url string) bool {
	return strings.HasPrefix(url, "git://") ||
		strings.HasPrefix(url, "git+http://") ||
		strings.HasPrefix(url, "git+https://") ||
		strings.HasSuffix(url, ".git")
}

func isSVNURL(url string) bool {
	if strings.HasPrefix(url, "svn://") || strings.HasPrefix(url, "svn+ssh://") {
		return true
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return false
	}
	return strings.Contains(url, "/svn/")
}

// fetchGit clones url (stripped of any git+ scheme prefix) into destDir and
// returns destDir itself, the whole checkout being the artifact.
func fetchGit(url, destDir string) (string, error) {
	cloneURL := strings.TrimPrefix(strings.TrimPrefix(url, "git+https://"), "git+http://")
	if strings.HasPrefix(url, "git+https://") {
		cloneURL = "https://" + cloneURL
	} else if strings.HasPrefix(url, "git+http://") {
		cloneURL = "http://" + cloneURL
	} else {
		cloneURL = url
	}

	_, err := git.PlainClone(destDir, false, &git.CloneOptions{
		URL:   cloneURL,
		Depth: 1,
	})
	if err != nil {
		return "", fmt.Errorf("git clone %s: %w", cloneURL, err)
	}
	return destDir, nil
}

// fetchSVN checks out url into destDir via the svn binary. muranoagent's
// original implementation ran encodeutils.safe_decode('utf-8') on the
// checkout output and mishandled non-UTF-8 locales; exec.Command's
// CombinedOutput here is decoded as UTF-8 unconditionally, so that bug
// cannot resurface.
func fetchSVN(url, destDir string) (string, error) {
	cmd := exec.Command("svn", "checkout", "--non-interactive", "--trust-server-cert", url, destDir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("svn checkout %s: %w: %s", url, err, string(out))
	}
	return destDir, nil
}

// fetchHTTP streams url's body into destDir/<last path element of the URL
// string, including any query> in 1 KiB chunks, matching the chunk size
// muranoagent's _download_url_file uses.
func fetchHTTP(url, destDir string) (string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	name := filepath.Base(url)
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	outPath := filepath.Join(destDir, name)
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	buf := make([]byte, 1024)
	// The wrappers hide ReadFrom/WriteTo so io.CopyBuffer really uses buf.
	if _, err := io.CopyBuffer(struct{ io.Writer }{out}, struct{ io.Reader }{resp.Body}, buf); err != nil {
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}
	return outPath, nil
}
