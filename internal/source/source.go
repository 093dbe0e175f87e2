// Package source lists the PDF files a folder run processes.
package source

import (
	"crypto/md5" //nolint:gosec // Zotero identifies attachment files by MD5
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
)

// FindPDFs returns the PDF files under root, sorted by path. Subdirectories are
// walked only when recursive is set. A non-empty pattern is matched against the
// base name of each file ("2024*.pdf", "{CamScanner,Scan}*").
func FindPDFs(root string, recursive bool, pattern string) ([]string, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, eris.Errorf("source: invalid pattern %q", pattern)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, eris.Wrapf(err, "source: stat %s", root)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("source: %s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".pdf") {
			return nil
		}
		if pattern != "" {
			ok, err := doublestar.Match(pattern, d.Name())
			if err != nil || !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: walk %s", root)
	}

	sort.Strings(files)
	return files, nil
}

// FileMD5 returns the hex MD5 digest of the file at path.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "source: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
