package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TopologyLoader reads topology files in either supported format.
type TopologyLoader struct {
	cue *CUEParser
	hcl *HCLParser
}

// NewTopologyLoader creates a loader. HCL files are evaluated against settings.
func NewTopologyLoader(settings *Settings) *TopologyLoader {
	return &TopologyLoader{
		cue: NewCUEParser(),
		hcl: NewHCLParser(settings),
	}
}

// Load parses a topology file or directory. A directory may mix CUE and HCL
// files; units and profiles of the CUE files come first. The returned error
// joins every recorded validation error.
func (l *TopologyLoader) Load(ctx context.Context, path string) (*Topology, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat topology %s: %w", path, err)
	}

	var cueFiles, hclFiles []string
	if info.IsDir() {
		files, err := FindTopologyFiles(path)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if filepath.Ext(f) == ".hcl" {
				hclFiles = append(hclFiles, f)
			} else {
				cueFiles = append(cueFiles, f)
			}
		}
	} else {
		switch filepath.Ext(path) {
		case ".cue":
			cueFiles = []string{path}
		case ".hcl":
			hclFiles = []string{path}
		default:
			return nil, fmt.Errorf("unsupported topology file %s: expected .cue or .hcl", path)
		}
	}

	if len(cueFiles) == 0 && len(hclFiles) == 0 {
		return nil, fmt.Errorf("no topology files found in %s", path)
	}

	merged := &Topology{}
	if len(cueFiles) > 0 {
		t, err := l.cue.Parse(ctx, cueFiles)
		if err != nil {
			return nil, err
		}
		mergeTopology(merged, t)
	}
	if len(hclFiles) > 0 {
		t, err := l.hcl.Parse(ctx, hclFiles)
		if err != nil {
			return nil, err
		}
		mergeTopology(merged, t)
	}
	merged.ParsedAt = time.Now()

	return merged, merged.Err()
}

func mergeTopology(dst, src *Topology) {
	if src.APIVersion != "" {
		if dst.APIVersion != "" && dst.APIVersion != src.APIVersion {
			dst.Errors = append(dst.Errors, ValidationError{
				Path:     "api_version",
				Message:  fmt.Sprintf("conflicting api_version %q and %q", dst.APIVersion, src.APIVersion),
				Severity: SeverityError,
			})
		}
		dst.APIVersion = src.APIVersion
	}
	dst.Units = append(dst.Units, src.Units...)
	dst.Profiles = append(dst.Profiles, src.Profiles...)
	dst.SourceFiles = append(dst.SourceFiles, src.SourceFiles...)
	dst.Errors = append(dst.Errors, src.Errors...)
}
