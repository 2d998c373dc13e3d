package watch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/blake2b"
)

// Candidate is an archive found in the watched directory.
type Candidate struct {
	Name    string
	Path    string
	ModTime time.Time
}

// matchName reports whether name matches pattern, ignoring case.
// An invalid pattern matches nothing.
func matchName(pattern, name string) bool {
	matched, err := doublestar.Match(strings.ToLower(pattern), strings.ToLower(name))
	if err != nil {
		return false
	}
	return matched
}

// ListCandidates returns the regular, readable, non-symlink files in dir whose
// name matches pattern, newest first. Files with equal modification times
// keep directory listing (name) order.
func ListCandidates(dir, pattern string) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("watch: read %s: %w", dir, err)
	}

	var out []Candidate
	for _, e := range entries {
		if !e.Type().IsRegular() || !matchName(pattern, e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		path := filepath.Join(dir, e.Name())
		if !readable(path) {
			continue
		}
		out = append(out, Candidate{Name: e.Name(), Path: path, ModTime: info.ModTime()})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// digest is a BLAKE2b-256 content hash.
type digest [blake2b.Size256]byte

func fileDigest(path string) (digest, error) {
	var d digest
	f, err := os.Open(path)
	if err != nil {
		return d, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return d, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return d, err
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}
