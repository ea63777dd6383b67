package monitor

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// predicateEngine compiles and evaluates alert conditions in a sandboxed
// environment that declares only the numeric metrics of the current
// snapshot. Programs are cached per expression; the cache resets when the
// metric namespace changes.
type predicateEngine struct {
	mu       sync.Mutex
	envSig   string
	env      *cel.Env
	programs map[string]cel.Program
}

func (p *predicateEngine) eval(expr string, metrics map[string]float64) (bool, error) {
	prg, err := p.program(expr, metrics)
	if err != nil {
		return false, err
	}

	activation := make(map[string]any, len(metrics))
	for name, value := range metrics {
		activation[name] = value
	}
	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("condition eval: %w", err)
	}
	verdict, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool", expr)
	}
	return verdict, nil
}

func (p *predicateEngine) program(expr string, metrics map[string]float64) (cel.Program, error) {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	sig := strings.Join(names, ",")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.env == nil || sig != p.envSig {
		opts := make([]cel.EnvOption, 0, len(names))
		for _, name := range names {
			opts = append(opts, cel.Variable(name, cel.DoubleType))
		}
		env, err := cel.NewEnv(opts...)
		if err != nil {
			return nil, fmt.Errorf("condition env: %w", err)
		}
		p.env = env
		p.envSig = sig
		p.programs = make(map[string]cel.Program)
	}

	if prg, ok := p.programs[expr]; ok {
		return prg, nil
	}
	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition compile: %w", issues.Err())
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition program: %w", err)
	}
	p.programs[expr] = prg
	return prg, nil
}
