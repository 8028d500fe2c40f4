// Package artifacts implements the per-plan artifact cache / files manager
// (§4.E): it materialises inline, base64, URL, git and svn files into a
// cache directory owned exclusively by one plan runner, and exposes them to
// executors as script-scoped symlinks.
//
// Ported from muranoagent/files_manager.py's FilesManager.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kestrel-ops/guestagent/internal/codec"
	"github.com/kestrel-ops/guestagent/internal/plan"
)

const dirMode = 0o700

// Cache is the artifact cache for a single plan run.
type Cache struct {
	root  string
	files map[string]plan.File

	mu   sync.Mutex
	memo map[string]string // file id -> absolute cache path, for inline files
	dlok map[string]string // file id -> absolute cache path, for downloadables

	logger *slog.Logger
	fetch  fetchFunc // overridable for tests
}

// New creates the per-plan cache directory under <storageRoot>/files/<planID>,
// resetting it first if a stale one is left over from a crashed run.
func New(storageRoot string, planID string, files map[string]plan.File, logger *slog.Logger) (*Cache, error) {
	root := filepath.Join(storageRoot, "files", planID)
	if _, err := os.Stat(root); err == nil {
		if err := os.RemoveAll(root); err != nil {
			return nil, fmt.Errorf("resetting artifact cache: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("creating artifact cache: %w", err)
	}

	return &Cache{
		root:   root,
		files:  files,
		memo:   make(map[string]string),
		dlok:   make(map[string]string),
		logger: logger,
		fetch:  defaultFetch,
	}, nil
}

// Clear removes the cache directory entirely.
func (c *Cache) Clear() error {
	return os.RemoveAll(c.root)
}

// ScriptDir returns (creating if necessary) the per-script symlink
// directory, the Chef/Puppet executors' "path" when the script carries no
// Files of its own.
func (c *Cache) ScriptDir(scriptName string) (string, error) {
	dir := filepath.Join(c.root, scriptName)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", err
	}
	return dir, nil
}

// PutEntryPoint materialises the file id referenced directly (an
// Application script's EntryPoint) under scriptName and returns the
// resulting symlink path.
func (c *Cache) PutEntryPoint(fileID, scriptName string) (string, error) {
	return c.put(fileID, "", scriptName)
}

// PutRef materialises a Script.Files entry (either a bare file id or an
// alias->file-id mapping) under scriptName.
func (c *Cache) PutRef(ref plan.FileRef, scriptName string) (string, error) {
	return c.put(ref.FileID, ref.Alias, scriptName)
}

func (c *Cache) put(fileID, alias, scriptName string) (string, error) {
	def, ok := c.files[fileID]
	if !ok {
		return "", fmt.Errorf("unknown file id %q", fileID)
	}
	name := def.Name
	if alias != "" {
		name = alias
	}

	var cachePath string
	var err error
	if def.IsDownloadable() {
		cachePath, err = c.materialiseDownloadable(fileID, def)
	} else {
		cachePath, err = c.materialiseInline(fileID, def)
	}
	if err != nil {
		return "", err
	}

	return c.symlink(cachePath, name, scriptName)
}

func (c *Cache) materialiseInline(fileID string, def plan.File) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if path, ok := c.memo[fileID]; ok {
		return path, nil
	}

	var content []byte
	switch def.BodyType {
	case plan.BodyTypeBase64, "":
		if def.BodyType == plan.BodyTypeBase64 {
			decoded, err := codec.DecodeBytes(def.Body)
			if err != nil {
				return "", fmt.Errorf("decoding base64 body of file %s: %w", fileID, err)
			}
			content = decoded
			break
		}
		fallthrough
	case plan.BodyTypeText:
		content = []byte(def.Body)
	default:
		return "", fmt.Errorf("file %s has unknown BodyType %q", fileID, def.BodyType)
	}

	outPath := filepath.Join(c.root, fileID)
	if err := os.WriteFile(outPath, content, 0o600); err != nil {
		return "", fmt.Errorf("writing inline file %s: %w", fileID, err)
	}
	c.memo[fileID] = outPath
	return outPath, nil
}

func (c *Cache) materialiseDownloadable(fileID string, def plan.File) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if path, ok := c.dlok[fileID]; ok {
		return path, nil
	}

	folder := filepath.Join(c.root, fileID)
	if _, err := os.Stat(folder); err == nil {
		// Reuse: a previous put_file already fetched this artifact.
		c.dlok[fileID] = folder
		return folder, nil
	}

	if err := os.MkdirAll(folder, dirMode); err != nil {
		return "", fmt.Errorf("creating download folder for %s: %w", fileID, err)
	}

	artifactPath, err := c.fetch(def.URL, folder)
	if err != nil {
		return "", fmt.Errorf("fetching file %s: %w", fileID, err)
	}
	c.dlok[fileID] = artifactPath
	return artifactPath, nil
}

// symlink creates <root>/<scriptName>/<name> -> cachePath, creating
// intermediate directories as needed, and is a no-op if the link already
// exists (idempotent across repeated script loads).
func (c *Cache) symlink(cachePath, name, scriptName string) (string, error) {
	scriptFolder := filepath.Join(c.root, scriptName)
	if err := os.MkdirAll(scriptFolder, dirMode); err != nil {
		return "", err
	}

	linkPath := filepath.Join(scriptFolder, name)
	if dir := filepath.Dir(linkPath); dir != scriptFolder {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return "", err
		}
	}

	if _, err := os.Lstat(linkPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.Symlink(cachePath, linkPath); err != nil {
			return "", fmt.Errorf("linking %s: %w", name, err)
		}
	}
	return linkPath, nil
}
