// Package rules provides the CEL-Go based fallback rule engine. It is the
// inference tier of last resort: threshold rules over feature vectors that
// never depend on an external provider.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// Engine compiles and evaluates fallback rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.FallbackRule
	Program cel.Program
}

// Activation is the outcome of evaluating one rule against a feature vector.
type Activation struct {
	RuleID         string
	Name           string
	Triggered      bool
	Weight         float64
	Reason         string
	Recommendation string
	Err            error
}

// NewEngine creates a rule engine. Every known feature name is declared as a
// double variable, so expressions read naturally: "sessions_7d == 0.0".
func NewEngine() (*Engine, error) {
	opts := []cel.EnvOption{
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("entity_type", cel.StringType),
	}
	for _, name := range allFeatureNames() {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.FallbackRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.FallbackRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *Engine) LoadRules(configs []*domain.FallbackRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules atomically replaces the loaded rule set. Enables hot-reloading
// from the store without restarting the service.
func (e *Engine) ReloadRules(configs []*domain.FallbackRule) error {
	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		e.mu.RLock()
		compiled, err := e.compileRule(cfg)
		e.mu.RUnlock()
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.compiledRules = newRules
	e.mu.Unlock()

	return nil
}

// Evaluate runs every loaded rule scoped to the vector's entity type.
// Rules run sequentially in rule-ID order so repeated evaluations of the same
// vector produce identical output.
func (e *Engine) Evaluate(fv *domain.FeatureVector) []Activation {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		if rule.Config.EntityType != "" && rule.Config.EntityType != fv.EntityType {
			continue
		}
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Config.ID < rules[j].Config.ID
	})

	activation := buildActivation(fv)

	results := make([]Activation, 0, len(rules))
	for _, rule := range rules {
		results = append(results, evaluateRule(rule, activation))
	}
	return results
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// LoadedRules returns the currently loaded rule configurations in ID order.
func (e *Engine) LoadedRules() []*domain.FallbackRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.FallbackRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close clears the loaded rule set.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func evaluateRule(rule *CompiledRule, activation map[string]any) Activation {
	result := Activation{
		RuleID:         rule.Config.ID,
		Name:           rule.Config.Name,
		Weight:         rule.Config.Weight,
		Reason:         rule.Config.Reason,
		Recommendation: rule.Config.Recommendation,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Err = fmt.Errorf("rule %s: %w", rule.Config.ID, err)
		return result
	}

	result.Triggered = toBool(out)
	return result
}

func buildActivation(fv *domain.FeatureVector) map[string]any {
	activation := make(map[string]any, len(fv.Names)+2)

	// Declared but absent features default to zero so cross-schema rules
	// never hit an unbound variable.
	for _, name := range allFeatureNames() {
		activation[name] = 0.0
	}
	for i, name := range fv.Names {
		activation[name] = fv.Values[i]
	}
	activation["features"] = fv.Map()
	activation["entity_type"] = string(fv.EntityType)

	return activation
}

func toBool(val ref.Val) bool {
	if b, ok := val.(types.Bool); ok {
		return bool(b)
	}
	return false
}

func (e *Engine) compileRule(cfg *domain.FallbackRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
