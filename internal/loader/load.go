// File: internal/loader/load.go
// Brief: File loading helpers and concurrent fragment parsing.

package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/example/stackfuse/internal/topology"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/sync/errgroup"
)

// ReadFile reads an input document, expanding a leading "~".
func ReadFile(path string) ([]byte, string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, "", fmt.Errorf("path is required")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, expanded, nil
}

func LoadTopologyFile(path string) (*topology.Topology, error) {
	data, src, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTopology(src, data)
}

func LoadBuildGraphFile(path string) ([]*topology.BuildStage, error) {
	data, src, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBuildGraph(src, data)
}

func LoadSecretsFile(path string) (map[string]topology.SecretRef, error) {
	data, src, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSecrets(src, data)
}

func LoadFragmentFile(path string) (*topology.Fragment, error) {
	data, src, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFragment(src, data)
}

// LoadFragments parses fragment documents in parallel and returns them in the
// order of paths. Duplicate fragment ids are rejected.
func LoadFragments(ctx context.Context, paths []string, concurrency int) ([]*topology.Fragment, error) {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	out := make([]*topology.Fragment, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frag, err := LoadFragmentFile(path)
			if err != nil {
				return err
			}
			out[i] = frag
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := checkUniqueIDs(out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadCatalog loads every *.yaml / *.yml fragment in dir (non-recursive), sorted by
// file name. The catalog is the set of fragment ids requires/conflictsWith may name.
func LoadCatalog(ctx context.Context, dir string, concurrency int) ([]*topology.Fragment, error) {
	expanded, err := homedir.Expand(strings.TrimSpace(dir))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(expanded)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(expanded, e.Name()))
		}
	}
	sort.Strings(paths)
	return LoadFragments(ctx, paths, concurrency)
}

func checkUniqueIDs(frags []*topology.Fragment) error {
	seen := map[string]string{}
	for _, f := range frags {
		if prev, ok := seen[f.ID]; ok {
			return &MalformedFragmentError{
				Source:     f.Source,
				FragmentID: f.ID,
				Field:      "id",
				Reason:     fmt.Sprintf("duplicate fragment id (also declared in %s)", prev),
			}
		}
		seen[f.ID] = f.Source
	}
	return nil
}
