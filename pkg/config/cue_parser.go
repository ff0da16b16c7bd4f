package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// CUEParser parses and validates CUE topology files.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	sr := NewSchemaRegistry()
	return &CUEParser{
		ctx:            sr.Context(),
		schemaRegistry: sr,
		validator:      validator.New(),
	}
}

// Parse parses CUE topology from the given files or package directories.
// Parse and schema errors are recorded in Topology.Errors; the returned error is
// reserved for sources that cannot be read at all.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*Topology, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		var errs []ValidationError
		if info.IsDir() {
			var files []string
			val, files, errs = cp.loadDirectory(source)
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs = cp.loadFile(source)
			sourceFiles = append(sourceFiles, source)
		}

		parseErrors = append(parseErrors, errs...)
		if val.Exists() {
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
		}
	}

	if len(parseErrors) > 0 {
		return &Topology{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	return cp.extractTopology(cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*Topology, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &Topology{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractTopology(val, []string{"inline"})
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: SeverityError,
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: SeverityError,
		}}
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractTopology checks val against #Topology and decodes units and profiles.
func (cp *CUEParser) extractTopology(val cue.Value, sourceFiles []string) (*Topology, error) {
	topology := &Topology{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	unified, err := cp.schemaRegistry.Unify(SchemaTopology, "#Topology", val)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology schema: %w", err)
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		topology.Errors = cp.convertCUEErrors(err)
		return topology, nil
	}

	if v := unified.LookupPath(cue.ParsePath("api_version")); v.Exists() {
		s, err := v.String()
		if err != nil {
			topology.Errors = append(topology.Errors, ValidationError{
				Path:     "api_version",
				Message:  err.Error(),
				Severity: SeverityError,
			})
		}
		topology.APIVersion = s
	}

	eachEntry(unified, "units", topology, func(key, path string, v cue.Value) {
		var unit UnitConfig
		if err := v.Decode(&unit); err != nil {
			topology.Errors = append(topology.Errors, cueFieldError(path, "failed to decode unit", err))
			return
		}
		if unit.Name == "" {
			unit.Name = key
		}
		topology.Units = append(topology.Units, unit)
	})

	eachEntry(unified, "profiles", topology, func(key, path string, v cue.Value) {
		var profile ProfileConfig
		if err := v.Decode(&profile); err != nil {
			topology.Errors = append(topology.Errors, cueFieldError(path, "failed to decode profile", err))
			return
		}
		if profile.Name == "" {
			profile.Name = key
		}
		if profile.Units == nil {
			profile.Units = []string{}
		}
		topology.Profiles = append(topology.Profiles, profile)
	})

	topology.Errors = append(topology.Errors, validateStruct(cp.validator, topology)...)
	return topology, nil
}

// eachEntry visits the entries of a field declared either as a struct keyed by
// name or as a list, in declaration order.
func eachEntry(val cue.Value, field string, topology *Topology, fn func(key, path string, v cue.Value)) {
	v := val.LookupPath(cue.ParsePath(field))
	if !v.Exists() {
		return
	}

	switch v.IncompleteKind() {
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			topology.Errors = append(topology.Errors, cueFieldError(field, "failed to iterate", err))
			return
		}
		for iter.Next() {
			key := iter.Selector().Unquoted()
			fn(key, field+"."+key, iter.Value())
		}
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			topology.Errors = append(topology.Errors, cueFieldError(field, "failed to list", err))
			return
		}
		for idx := 0; list.Next(); idx++ {
			fn("", fmt.Sprintf("%s[%d]", field, idx), list.Value())
		}
	}
}

func cueFieldError(path, msg string, err error) ValidationError {
	return ValidationError{
		Path:     path,
		Message:  fmt.Sprintf("%s: %v", msg, err),
		Severity: SeverityError,
	}
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  strings.TrimSpace(errors.Details(e, nil)),
			Severity: SeverityError,
		})
	}

	return validationErrors
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExportJSON exports a CUE value to JSON.
func (cp *CUEParser) ExportJSON(val cue.Value) ([]byte, error) {
	var data interface{}
	if err := val.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	return json.MarshalIndent(data, "", "  ")
}

// FindTopologyFiles returns the CUE and HCL files under dir.
func FindTopologyFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && isTopologyFile(path) {
			files = append(files, path)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return files, nil
}

func isTopologyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".cue", ".hcl":
		return true
	}
	return false
}

// validateStruct runs struct-tag validation and converts failures into
// ValidationErrors.
func validateStruct(v *validator.Validate, s interface{}) []ValidationError {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Message: err.Error(), Severity: SeverityError}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("failed on '%s' validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on '%s=%s' validation", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{
			Path:     fe.Namespace(),
			Message:  msg,
			Severity: SeverityError,
		})
	}
	return out
}
