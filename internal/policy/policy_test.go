package policy

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type tarEntry struct {
	name string
	body string
}

func writeTarball(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		h := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(h); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
}

func TestLoadBundleFromTarball(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.tgz")
	writeTarball(t, path, []tarEntry{
		{name: "rules/policy.rego", body: testPolicy},
		{name: "data.json", body: `{"registry": "registry.example.com"}`},
	})
	b, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if b.Data["registry"] != "registry.example.com" {
		t.Fatalf("data=%v", b.Data)
	}
	rep, err := Evaluate(context.Background(), b, testTopology())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rep.DenyCount != 1 || rep.PolicyRef != path {
		t.Fatalf("report=%+v", rep)
	}

	dir := b.Dir
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("unpacked bundle left behind: %v", err)
	}
}

func TestLoadBundleRejectsEscapingEntry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.tar.gz")
	writeTarball(t, path, []tarEntry{
		{name: "policy.rego", body: testPolicy},
		{name: "../outside.rego", body: testPolicy},
	})
	_, err := LoadBundle(path)
	if err == nil || !(strings.Contains(err.Error(), "escapes the bundle") || errors.Is(err, tar.ErrInsecurePath)) {
		t.Fatalf("expected escaping entry error, got %v", err)
	}
}

func TestCloseKeepsDirectoryBundles(t *testing.T) {
	t.Parallel()

	b := writeBundle(t)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(b.Dir, "policy.rego")); err != nil {
		t.Fatalf("directory bundle removed: %v", err)
	}
}

func TestLoadBundleRejectsPlainFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.rego")
	if err := os.WriteFile(path, []byte(testPolicy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadBundle(path); err == nil {
		t.Fatalf("expected error for a bare rego file")
	}
}
