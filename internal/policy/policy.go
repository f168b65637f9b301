// File: internal/policy/policy.go
// Brief: Policy bundles: a directory of rego modules or a tar archive of one.

package policy

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// Bundle is a directory of .rego modules plus an optional data.json exposed to
// rules as input.data. Bundles unpacked from an archive own their directory
// until Close.
type Bundle struct {
	Ref  string
	Dir  string
	Data map[string]any

	unpacked bool
}

// maxBundleBytes caps the unpacked size of an archive.
const maxBundleBytes = 25 << 20

// LoadBundle opens ref, a directory or a .tar/.tar.gz/.tgz archive. A leading
// ~ is expanded.
func LoadBundle(ref string) (*Bundle, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("policy ref is required")
	}
	path, err := homedir.Expand(ref)
	if err != nil {
		return nil, fmt.Errorf("expand policy path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat policy bundle: %w", err)
	}

	b := &Bundle{Ref: ref, Dir: path}
	if !info.IsDir() {
		if !isArchive(path) {
			return nil, fmt.Errorf("unsupported policy bundle %s (want a directory or .tar/.tgz archive)", path)
		}
		dir, err := os.MkdirTemp("", "stackfuse-policy-*")
		if err != nil {
			return nil, err
		}
		b.Dir, b.unpacked = dir, true
		if err := extractArchive(path, dir); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("unpack policy bundle %s: %w", path, err)
		}
	}
	if b.Data, err = readBundleData(filepath.Join(b.Dir, "data.json")); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// Close removes the directory an archive was unpacked into. Directory bundles
// are left alone.
func (b *Bundle) Close() error {
	if b == nil || !b.unpacked {
		return nil
	}
	b.unpacked = false
	return os.RemoveAll(b.Dir)
}

func isArchive(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range []string{".tar", ".tgz", ".tar.gz"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// extractArchive writes the regular files of a (possibly gzipped) tarball under
// dest. Entries that would land outside dest are rejected.
func extractArchive(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, _ := br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	var written int64
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		name, err := entryPath(dest, h.Name)
		if err != nil {
			return err
		}
		switch h.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(name, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			n, err := writeEntry(name, tr, maxBundleBytes-written)
			if err != nil {
				return err
			}
			written += n
		}
	}
}

func entryPath(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(name, "/")))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the bundle", name)
	}
	return filepath.Join(dest, clean), nil
}

func writeEntry(path string, r io.Reader, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(r, budget+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n > budget {
		return n, fmt.Errorf("policy bundle larger than %d bytes", maxBundleBytes)
	}
	return n, nil
}

func readBundleData(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}
