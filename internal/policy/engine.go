package policy

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed policies/*.rego
var embeddedPolicies embed.FS

const decisionQuery = "data.kiosktime.access.decision"

// Decision codes
const (
	CodeDisabled           = "disabled"
	CodeOK                 = "ok"
	CodeOutsideUsageWindow = "outside_usage_window"
	CodeAllowanceExhausted = "allowance_exhausted"
	CodeStorageError       = "storage_error"
	CodePolicyError        = "policy_error"
)

// WindowFact describes the usage window check for the current time.
type WindowFact struct {
	Within bool
	Label  string
}

// Input holds the facts an access decision is made from.
type Input struct {
	Enabled          bool
	Window           WindowFact
	RemainingMinutes int
	AllowedMinutes   int
	UsedMinutes      int
	Credits          int
}

func (in Input) toMap() map[string]interface{} {
	return map[string]interface{}{
		"enabled": in.Enabled,
		"window": map[string]interface{}{
			"within": in.Window.Within,
			"label":  in.Window.Label,
		},
		"remaining_minutes": in.RemainingMinutes,
		"allowed_minutes":   in.AllowedMinutes,
		"used_minutes":      in.UsedMinutes,
		"credits":           in.Credits,
	}
}

// Decision is the outcome of an access evaluation.
type Decision struct {
	Allow  bool   `json:"allow"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Engine evaluates session access decisions with OPA. The embedded policy is
// used unless a policy directory is configured.
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewEngine creates a new OPA engine
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	query, err := e.prepare(context.Background())
	if err != nil {
		return nil, err
	}
	e.query = query

	source := policyDir
	if source == "" {
		source = "embedded"
	}
	e.logger.Info().Str("policy_source", source).Msg("OPA engine initialized")

	return e, nil
}

// loadModules returns policy sources keyed by file name
func (e *Engine) loadModules() (map[string]string, error) {
	modules := make(map[string]string)

	if e.policyDir == "" {
		entries, err := embeddedPolicies.ReadDir("policies")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded policies: %w", err)
		}
		for _, entry := range entries {
			name := "policies/" + entry.Name()
			content, err := embeddedPolicies.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("failed to read embedded policy %s: %w", name, err)
			}
			modules[name] = string(content)
		}
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.policyDir)
	}

	e.logger.Info().Int("count", len(files)).Msg("Loading policy files")

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		modules[file] = string(content)
	}
	return modules, nil
}

// prepare parses all modules and prepares the decision query
func (e *Engine) prepare(ctx context.Context) (rego.PreparedEvalQuery, error) {
	modules, err := e.loadModules()
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to load policies: %w", err)
	}

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for _, name := range names {
		// Parse first for a clear error pointing at the broken file
		module, err := ast.ParseModule(name, modules[name])
		if err != nil {
			return rego.PreparedEvalQuery{}, fmt.Errorf("failed to parse policy file %s: %w", name, err)
		}
		e.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
		opts = append(opts, rego.Module(name, modules[name]))
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare decision query: %w", err)
	}
	return query, nil
}

// Evaluate returns the access decision for the given facts
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	startTime := time.Now()

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input.toMap()))
	if err != nil {
		return Decision{}, fmt.Errorf("decision query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Msg("Access decision evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("no results from decision query")
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal decision: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return Decision{}, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	if decision.Code == "" {
		return Decision{}, fmt.Errorf("decision has no code")
	}

	return decision, nil
}

// Reload re-reads the policies. The previous policy stays active on failure.
func (e *Engine) Reload() error {
	e.logger.Info().Msg("Reloading OPA policies")

	query, err := e.prepare(context.Background())
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.mu.Unlock()

	e.logger.Info().Msg("OPA policies reloaded successfully")
	return nil
}
