package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/strata-dev/strata/pkg/engine"
)

// DefaultScriptTimeout bounds a single script evaluation.
const DefaultScriptTimeout = 30 * time.Second

// StarlarkEvaluator executes Starlark scripts safely.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultScriptTimeout
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// Evaluate executes a Starlark script with the given input and returns its
// exported globals. Scripts that outlive the timeout or ctx are cancelled.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, input map[string]interface{}) (*ScriptResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "strata",
		Print: func(_ *starlark.Thread, msg string) {
			// Suppress print for security
		},
	}

	type outcome struct {
		output map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		output, err := se.evaluateSync(thread, filename, script, input)
		done <- outcome{output: output, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-evalCtx.Done():
		thread.Cancel(fmt.Sprintf("execution timeout after %v", se.timeout))
		<-done
		res.err = fmt.Errorf("starlark execution cancelled: %w", evalCtx.Err())
	}

	result := &ScriptResult{
		Output:        res.output,
		ExecutionTime: time.Since(startTime),
	}
	if res.err != nil {
		result.Error = res.err.Error()
		return result, res.err
	}
	return result, nil
}

// evaluateSync performs the actual Starlark evaluation on thread.
func (se *StarlarkEvaluator) evaluateSync(thread *starlark.Thread, filename, script string, input map[string]interface{}) (map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starlarkjson.Module,
	}

	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		// Skip internal variables (starting with _)
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, isFunc := val.(*starlark.Function); isFunc {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}

	return output, nil
}

// ScriptBuilder is an engine.Builder backed by a Starlark script. The script
// sees `inputs` (the required capabilities) and `settings`, and must assign a
// dict to `outputs`.
type ScriptBuilder struct {
	unit      string
	script    string
	settings  map[string]any
	evaluator *StarlarkEvaluator
}

var _ engine.Builder = (*ScriptBuilder)(nil)

// NewScriptBuilder creates a builder running script for unit.
func NewScriptBuilder(evaluator *StarlarkEvaluator, unit, script string, settings map[string]any) *ScriptBuilder {
	if evaluator == nil {
		evaluator = NewStarlarkEvaluator(0)
	}
	return &ScriptBuilder{
		unit:      unit,
		script:    script,
		settings:  settings,
		evaluator: evaluator,
	}
}

// Build runs the script and returns its outputs.
func (b *ScriptBuilder) Build(ctx context.Context, in engine.Capabilities) (engine.Capabilities, error) {
	inputs := make(map[string]interface{}, len(in))
	for k, v := range in {
		inputs[k] = v
	}
	settings := b.settings
	if settings == nil {
		settings = map[string]any{}
	}

	result, err := b.evaluator.Evaluate(ctx, b.unit+".star", b.script, map[string]interface{}{
		"inputs":   inputs,
		"settings": settings,
	})
	if err != nil {
		return nil, fmt.Errorf("unit %s script: %w", b.unit, err)
	}

	raw, ok := result.Output["outputs"]
	if !ok {
		return nil, fmt.Errorf("unit %s script did not assign outputs", b.unit)
	}
	outputs, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unit %s script outputs must be a dict, got %T", b.unit, raw)
	}

	return engine.Capabilities(outputs), nil
}

// toStarlarkValue converts a Go value to a Starlark value. Values of other
// types are converted through their JSON encoding.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			if err := dict.SetKey(starlark.String(k), starlark.String(val[k])); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported type: %T", v)
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("unsupported type: %T", v)
		}
		return toStarlarkValue(generic)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
