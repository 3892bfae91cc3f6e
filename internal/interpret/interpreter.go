// Package interpret turns unclear transcribed speech into ranked candidate
// phrasings of what the user meant.
//
// The user base has dysarthria, aphasia, and similar impairments: the raw
// transcript is often garbled ("nee hel", "wan wadder") and the LLM's job is
// to recover intent, not to transcribe. Per-user context (recent messages,
// learned corrections, saved phrases) is assembled by [ContextBuilder] and
// injected into the prompt so the model learns each user's patterns.
//
// Interpretation never fails the speaking flow: a malformed model response
// degrades to a single candidate equal to the raw utterance so the user can
// still confirm and speak it.
package interpret

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/emberassist/ember/pkg/provider/llm"
	"github.com/emberassist/ember/pkg/types"
)

// ErrEmptyUtterance is returned when there is no speech to interpret.
var ErrEmptyUtterance = errors.New("interpret: empty utterance")

const (
	// defaultMaxCandidates matches config.DialogConfig's built-in default.
	defaultMaxCandidates = 5

	// interpretTemperature runs cool so candidate ranking is reproducible.
	interpretTemperature = 0.2

	// interpretMaxTokens is generous for five short sentences plus flags.
	interpretMaxTokens = 512

	// fallbackConfidence is assigned to the raw-utterance candidate emitted
	// when the model response cannot be parsed.
	fallbackConfidence = 25
)

const systemPromptTemplate = `You are the interpretation engine of an assistive communication app. The user has a speech impairment such as dysarthria or aphasia: utterances arrive garbled, truncated, or with substituted sounds, and your job is to recover what they meant to say.

Rules:
- Produce at most %d candidate phrasings, best first. Each candidate is a complete, natural sentence in the user's own voice (first person).
- "confidence" is an integer from 0 to 100: how likely that candidate is what the user meant.
- Set "emergency" to true only when the user likely needs urgent help (pain, a fall, trouble breathing, danger). Never set it for ordinary requests.
- When the utterance is a command for the user's home (lights, thermostat, doors, media, scenes), fill "home_command". Otherwise set "home_command" to null.
- "action" must be one of "turn_on", "turn_off", "set", "trigger_scene". "target_type" is "device" or "scene". "parameters" carries values like {"temperature": "21"}.

Respond with a single JSON object and nothing else, in exactly this shape:
{"candidates":[{"text":"...","confidence":0}],"emergency":false,"home_command":null}`

// llmInterpretation mirrors the JSON object the model is instructed to emit.
type llmInterpretation struct {
	Candidates  []llmCandidate  `json:"candidates"`
	Emergency   bool            `json:"emergency"`
	HomeCommand *llmHomeCommand `json:"home_command"`
}

type llmCandidate struct {
	Text       string `json:"text"`
	Confidence int    `json:"confidence"`
}

type llmHomeCommand struct {
	Action     string            `json:"action"`
	Target     string            `json:"target"`
	TargetType string            `json:"target_type"`
	Parameters map[string]string `json:"parameters"`
	Confidence float64           `json:"confidence"`
}

// Interpreter produces ranked intent candidates for an utterance using an
// LLM provider.
type Interpreter struct {
	provider      llm.Provider
	maxCandidates int
	contextBudget int
}

// InterpreterOption configures an [Interpreter].
type InterpreterOption func(*Interpreter)

// WithMaxCandidates caps how many candidates an interpretation may carry.
func WithMaxCandidates(n int) InterpreterOption {
	return func(in *Interpreter) {
		if n > 0 {
			in.maxCandidates = n
		}
	}
}

// WithContextBudget caps the character count of the per-user context block
// appended to the system prompt.
func WithContextBudget(chars int) InterpreterOption {
	return func(in *Interpreter) {
		if chars > 0 {
			in.contextBudget = chars
		}
	}
}

// NewInterpreter creates an Interpreter backed by the given provider.
func NewInterpreter(provider llm.Provider, opts ...InterpreterOption) *Interpreter {
	in := &Interpreter{
		provider:      provider,
		maxCandidates: defaultMaxCandidates,
		contextBudget: defaultCharBudget,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Interpret asks the model what the user meant by utterance. userCtx may be
// nil or empty; when present it is rendered into the system prompt.
//
// A provider failure is returned as an error so callers can fail over. A
// response that cannot be parsed is not an error: the result degrades to a
// single candidate carrying the utterance verbatim.
func (in *Interpreter) Interpret(ctx context.Context, utterance string, userCtx *PromptContext) (*types.Interpretation, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, ErrEmptyUtterance
	}

	req := llm.CompletionRequest{
		SystemPrompt: in.systemPrompt(userCtx),
		Messages: []llm.Message{
			{Role: "user", Content: utterance},
		},
		Temperature: interpretTemperature,
		MaxTokens:   interpretMaxTokens,
		JSONOnly:    true,
	}

	resp, err := in.provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("interpret: completion: %w", err)
	}
	if resp == nil {
		slog.Warn("interpretation returned no response, using raw utterance")
		return in.fallback(utterance, ""), nil
	}

	parsed, ok := parseResponse(resp.Content)
	if !ok {
		slog.Warn("interpretation response unparseable, using raw utterance",
			slog.String("model", resp.Model),
			slog.Int("response_len", len(resp.Content)))
		return in.fallback(utterance, resp.Model), nil
	}

	result := in.normalize(utterance, parsed)
	result.Model = resp.Model
	if result.Emergency {
		slog.Info("interpretation flagged emergency",
			slog.String("utterance", utterance),
			slog.String("model", resp.Model))
	}
	return result, nil
}

// systemPrompt renders the instruction template plus the optional per-user
// context block.
func (in *Interpreter) systemPrompt(userCtx *PromptContext) string {
	prompt := fmt.Sprintf(systemPromptTemplate, in.maxCandidates)
	if section := FormatPromptContext(userCtx, in.contextBudget); section != "" {
		prompt += "\n\nWhat you know about this user:\n" + section
	}
	return prompt
}

// fallback builds the degraded single-candidate interpretation.
func (in *Interpreter) fallback(utterance, model string) *types.Interpretation {
	return &types.Interpretation{
		Original: utterance,
		Candidates: []types.Candidate{
			{Text: utterance, Confidence: fallbackConfidence},
		},
		Model: model,
	}
}

// normalize converts the model's reply into a [types.Interpretation],
// dropping empty candidates, clamping confidences, enforcing best-first
// order, and validating the home command.
func (in *Interpreter) normalize(utterance string, parsed *llmInterpretation) *types.Interpretation {
	result := &types.Interpretation{
		Original:  utterance,
		Emergency: parsed.Emergency,
	}

	for _, c := range parsed.Candidates {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		result.Candidates = append(result.Candidates, types.Candidate{
			Text:       text,
			Confidence: clampConfidence(c.Confidence),
		})
	}
	slices.SortStableFunc(result.Candidates, func(a, b types.Candidate) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	if len(result.Candidates) > in.maxCandidates {
		result.Candidates = result.Candidates[:in.maxCandidates]
	}
	if len(result.Candidates) == 0 {
		result.Candidates = []types.Candidate{
			{Text: utterance, Confidence: fallbackConfidence},
		}
	}

	result.HomeCommand = validateHomeCommand(parsed.HomeCommand)
	return result
}

// parseResponse extracts the JSON object from the model's reply, tolerating
// markdown code fences.
func parseResponse(content string) (*llmInterpretation, bool) {
	jsonStr := stripMarkdown(content)
	var parsed llmInterpretation
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, false
	}
	return &parsed, true
}

// stripMarkdown removes a surrounding markdown code fence, if present.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	if before, ok := strings.CutSuffix(strings.TrimSpace(s), "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// validateHomeCommand converts the model's home command, returning nil when
// the action is unknown or the target is missing. An empty target_type
// defaults to "device" except for scene triggers.
func validateHomeCommand(hc *llmHomeCommand) *types.HomeCommand {
	if hc == nil {
		return nil
	}
	action := strings.ToLower(strings.TrimSpace(hc.Action))
	switch action {
	case "turn_on", "turn_off", "set", "trigger_scene":
	default:
		slog.Debug("dropping home command with unknown action",
			slog.String("action", hc.Action))
		return nil
	}
	target := strings.TrimSpace(hc.Target)
	if target == "" {
		slog.Debug("dropping home command without target",
			slog.String("action", action))
		return nil
	}

	targetType := strings.ToLower(strings.TrimSpace(hc.TargetType))
	switch targetType {
	case "device", "scene":
	case "":
		if action == "trigger_scene" {
			targetType = "scene"
		} else {
			targetType = "device"
		}
	default:
		targetType = "device"
	}

	conf := hc.Confidence
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}

	return &types.HomeCommand{
		Action:     action,
		Target:     target,
		TargetType: targetType,
		Parameters: hc.Parameters,
		Confidence: conf,
	}
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
