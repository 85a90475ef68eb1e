package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"browsernerd/internal/config"
	"browsernerd/internal/logging"
	"browsernerd/internal/types"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Planner turns an underspecified or multi-step instruction into a sequence
// of actions, given the current page. Implementations are non-deterministic;
// callers cache results per (instruction, snapshot hash).
type Planner interface {
	Plan(ctx context.Context, instruction string, snap *types.PageSnapshot) ([]types.Action, error)
}

// GenAIPlanner calls the Gemini API.
type GenAIPlanner struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     *zap.Logger
}

// NewGenAIPlanner builds the production planner. Returns an error when no
// API key is configured.
func NewGenAIPlanner(ctx context.Context, cfg config.PlannerConfig) (*GenAIPlanner, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("planner API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIPlanner{
		client:  client,
		model:   cfg.GetModel(),
		timeout: cfg.GetTimeout(),
		log:     logging.Get(logging.CategoryPlanner),
	}, nil
}

// plannedStep is the JSON shape the model is asked to produce.
type plannedStep struct {
	Kind      string `json:"kind"`
	URL       string `json:"url,omitempty"`
	Target    string `json:"target,omitempty"`
	Value     string `json:"value,omitempty"`
	Option    string `json:"option,omitempty"`
	Direction string `json:"direction,omitempty"`
	WaitSecs  int    `json:"wait_seconds,omitempty"`
	Variable  string `json:"variable,omitempty"`
}

const plannerSystemPrompt = `You translate a user's browser instruction into a JSON array of steps.
Allowed kinds: navigate, click, fill, select, wait, scroll, extract.
For element steps, "target" must copy the visible text, placeholder or aria-label
of one element from the provided page snapshot. Respond with JSON only.`

// Plan asks the model for a step sequence and grounds each named target
// against the snapshot.
func (p *GenAIPlanner) Plan(ctx context.Context, instruction string, snap *types.PageSnapshot) ([]types.Action, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snapJSON, err := json.Marshal(snap.Elements)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	prompt := fmt.Sprintf("Instruction: %s\n\nPage URL: %s\nPage elements:\n%s",
		instruction, snap.URL, snapJSON)

	result, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(plannerSystemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("planner call failed: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	text = strings.TrimPrefix(text, "```json")
	text = strings.Trim(text, "` \n")

	var steps []plannedStep
	if err := json.Unmarshal([]byte(text), &steps); err != nil {
		return nil, fmt.Errorf("planner returned malformed plan: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("planner returned an empty plan")
	}

	actions := make([]types.Action, 0, len(steps))
	for _, s := range steps {
		a, err := p.toAction(s, instruction, snap)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	p.log.Debug("plan produced", zap.String("instruction", instruction), zap.Int("steps", len(actions)))
	return actions, nil
}

func (p *GenAIPlanner) toAction(s plannedStep, instruction string, snap *types.PageSnapshot) (types.Action, error) {
	a := types.Action{Instruction: instruction}
	switch types.ActionKind(s.Kind) {
	case types.ActionNavigate:
		a.Kind = types.ActionNavigate
		a.URL = ensureScheme(s.URL)
	case types.ActionWait:
		a.Kind = types.ActionWait
		a.WaitDuration = time.Duration(s.WaitSecs) * time.Second
		if a.WaitDuration <= 0 {
			a.WaitDuration = time.Second
		}
	case types.ActionScroll:
		a.Kind = types.ActionScroll
		if s.Direction == "up" || s.Direction == "down" {
			a.Direction = s.Direction
		} else if s.Target != "" {
			a.Target = plannerTarget(s.Target, snap)
		} else {
			a.Direction = "down"
		}
	case types.ActionClick, types.ActionFill, types.ActionSelect, types.ActionExtract:
		a.Kind = types.ActionKind(s.Kind)
		a.Target = plannerTarget(s.Target, snap)
		a.Value = s.Value
		a.Option = s.Option
		a.Variable = s.Variable
		if a.Kind == types.ActionExtract && a.Variable == "" {
			a.Variable = "extracted"
		}
	default:
		return a, fmt.Errorf("planner produced unknown step kind %q", s.Kind)
	}
	a.Description = a.Describe()
	return a, nil
}

// plannerTarget maps a target phrase from the model back onto a snapshot
// element when possible, falling back to a text candidate.
func plannerTarget(phrase string, snap *types.PageSnapshot) types.Target {
	if scored, status := ground(phrase, snap); status == groundOK || status == groundAmbiguous {
		return scored[0].Element.Target()
	}
	return types.Target{Primary: types.TargetCandidate{Strategy: types.ByText, Value: phrase}}
}
