// Package interpreter resolves natural-language instructions into concrete
// browser actions through a tiered pipeline: direct pattern match, then
// page-grounded similarity scoring, then an LLM plan.
package interpreter

import (
	"context"
	"fmt"
	"sync"

	"browsernerd/internal/logging"
	"browsernerd/internal/types"

	"go.uber.org/zap"
)

// Result is the interpreter's output for one instruction.
type Result struct {
	Actions []types.Action `json:"actions"`
	// Source identifies the tier that produced the result.
	Source string `json:"source"`
	// Warning is set when the result is a degraded best effort.
	Warning string `json:"warning,omitempty"`
	// Candidates carries the scored elements considered by tier 2.
	Candidates []ScoredCandidate `json:"candidates,omitempty"`
}

// Interpreter is per-session: its tier-3 cache lives for the session.
type Interpreter struct {
	planner Planner
	log     *zap.Logger

	mu    sync.Mutex
	cache map[string]*Result
}

// New builds an interpreter. planner may be nil; tier 3 then degrades to a
// best-effort tier-2 result with a warning.
func New(planner Planner) *Interpreter {
	return &Interpreter{
		planner: planner,
		log:     logging.Get(logging.CategoryInterpreter),
		cache:   make(map[string]*Result),
	}
}

// Interpret maps one instruction plus the current page snapshot to actions.
// Tiers 1 and 2 are deterministic for equal (instruction, snapshot hash)
// inputs; tier 3 results are cached under that same key.
func (i *Interpreter) Interpret(ctx context.Context, instruction string, snap *types.PageSnapshot) (*Result, error) {
	if snap == nil {
		snap = &types.PageSnapshot{}
	}

	// Tier 1: direct pattern match.
	in, matched := parse(instruction)
	if matched && in.action != nil {
		in.action.Description = in.action.Describe()
		return &Result{Actions: []types.Action{*in.action}, Source: "pattern"}, nil
	}

	// Tier 2: page-grounded heuristic for a named but unresolved target.
	if matched {
		scored, status := ground(in.targetPhrase, snap)
		switch status {
		case groundOK:
			a := i.buildAction(in, scored[0].Element, instruction)
			return &Result{Actions: []types.Action{a}, Source: "heuristic", Candidates: topN(scored, 3)}, nil
		case groundAmbiguous:
			// Tier 3 may break the tie; without it the ambiguity surfaces.
			if i.planner != nil {
				return i.plan(ctx, instruction, snap, in, scored, true)
			}
			return nil, types.NewError(types.KindAmbiguous,
				"instruction %q matches multiple elements", instruction).
				WithContext("candidates", topN(scored, 3))
		case groundWeak, groundEmpty:
			return i.plan(ctx, instruction, snap, in, scored, false)
		}
	}

	// No pattern matched: multi-step or underspecified request.
	return i.plan(ctx, instruction, snap, intent{}, nil, false)
}

// plan runs tier 3, falling back to tier 2's best effort when the planner is
// unavailable. The degradation is reported as a warning, never hidden.
func (i *Interpreter) plan(ctx context.Context, instruction string, snap *types.PageSnapshot, in intent, scored []ScoredCandidate, ambiguous bool) (*Result, error) {
	key := instruction + "|" + snap.ContentHash()
	i.mu.Lock()
	if cached, ok := i.cache[key]; ok {
		i.mu.Unlock()
		return cached, nil
	}
	i.mu.Unlock()

	if i.planner != nil {
		actions, err := i.planner.Plan(ctx, instruction, snap)
		if err == nil {
			res := &Result{Actions: actions, Source: "planner"}
			i.mu.Lock()
			i.cache[key] = res
			i.mu.Unlock()
			return res, nil
		}
		i.log.Warn("planner failed, degrading to heuristic", zap.Error(err))
	}

	if ambiguous {
		return nil, types.NewError(types.KindAmbiguous,
			"instruction %q matches multiple elements", instruction).
			WithContext("candidates", topN(scored, 3))
	}

	// Best-effort fallback: tier 2's top candidate even below threshold.
	if in.kind != "" && len(scored) > 0 {
		a := i.buildAction(in, scored[0].Element, instruction)
		warning := "planner unavailable; using the closest page element"
		return &Result{
			Actions:    []types.Action{a},
			Source:     "fallback",
			Warning:    warning,
			Candidates: topN(scored, 3),
		}, nil
	}

	return nil, types.NewError(types.KindUnrecognized,
		"could not interpret %q", instruction).
		WithContext("candidates", topN(scored, 3))
}

func (i *Interpreter) buildAction(in intent, e types.Element, instruction string) types.Action {
	a := types.Action{
		Kind:        in.kind,
		Instruction: instruction,
		Target:      e.Target(),
		Value:       in.value,
		FieldType:   e.Type,
	}
	if in.kind == types.ActionSelect {
		a.Option = in.value
		a.Value = ""
	}
	a.Description = fmt.Sprintf("%s %s", in.kind, e.Label())
	return a
}

// CacheSize reports the number of cached tier-3 plans, for status queries.
func (i *Interpreter) CacheSize() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.cache)
}
