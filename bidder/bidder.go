// Package bidder selects exactly one agent for a task. Selection is two
// stage: a cheap signal pass over every candidate (agent self-bids or a
// keyword/capability overlap heuristic), then an LLM tiebreak over the top
// candidates when the cheap pass is not decisive. The LLM path is wrapped in
// the "bidder" circuit breaker and degrades to the cheap winner on failure.
package bidder

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hupe1980/taskmesh/breaker"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/llm"
	"github.com/hupe1980/taskmesh/logging"
)

// BreakerName is the dependency name the LLM tiebreak is isolated under.
const BreakerName = "bidder"

// Provenance records which path produced a cheap-pass score.
type Provenance string

const (
	// ProvenanceBid marks a score the agent reported itself.
	ProvenanceBid Provenance = "bid"
	// ProvenanceHeuristic marks a score derived from keyword and
	// capability overlap.
	ProvenanceHeuristic Provenance = "heuristic"
)

// Method records how the final winner was chosen.
type Method string

const (
	// MethodAutoWin means the cheap pass was decisive on its own.
	MethodAutoWin Method = "auto_win"
	// MethodLLM means the LLM tiebreak picked the winner.
	MethodLLM Method = "llm"
	// MethodFallback means the LLM path was unavailable and the cheap
	// winner was used.
	MethodFallback Method = "fallback"
)

// Score is one agent's cheap-pass signal.
type Score struct {
	AgentID    string
	Value      float64
	Provenance Provenance
	Reasoning  string
}

// Selection is the outcome of a bid round.
type Selection struct {
	AgentID    string
	Confidence float64
	Reasoning  string
	Method     Method
	// Scores holds the full cheap pass, ordered by (value desc, id asc).
	Scores []Score
	// TokenUsage is non-nil when the LLM tiebreak ran.
	TokenUsage *llm.TokenUsage
}

// Options configures a UnifiedBidder.
type Options struct {
	// AutoWinThreshold is the cheap score above which the leader can win
	// without an LLM call, provided the margin also holds.
	AutoWinThreshold float64
	// AutoMargin is the minimum lead over the runner-up for an auto win.
	AutoMargin float64
	// MinRoutable is the score below which no agent is considered a
	// plausible route.
	MinRoutable float64
	// TopK bounds how many candidates are surfaced to the LLM tiebreak.
	TopK int
	// DisableLLM forces the deterministic cheap-pass-only mode.
	DisableLLM bool
	// MaxTokens caps the tiebreak completion.
	MaxTokens int
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		AutoWinThreshold: 0.90,
		AutoMargin:       0.15,
		MinRoutable:      0.2,
		TopK:             5,
		MaxTokens:        512,
	}
}

// UnifiedBidder scores candidates and picks a single winner per task. It is
// side effect free apart from LLM token accounting.
type UnifiedBidder struct {
	client   llm.Client
	breakers core.BreakerFactory
	opts     Options
}

// New creates a UnifiedBidder. The client may be nil when the LLM path is
// disabled.
func New(client llm.Client, breakers core.BreakerFactory, optFns ...func(o *Options)) *UnifiedBidder {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if client == nil {
		opts.DisableLLM = true
	}
	return &UnifiedBidder{client: client, breakers: breakers, opts: opts}
}

// Select picks the winning agent for the task from the given candidates. It
// returns a KindNoRoute error when no candidate clears the routable
// threshold.
func (b *UnifiedBidder) Select(ctx context.Context, task *core.Task, agents []core.Agent) (*Selection, error) {
	if len(agents) == 0 {
		return nil, core.NewError(core.KindNoRoute, "no agents registered")
	}

	scores := b.cheapPass(ctx, task, agents)

	top := scores[0]
	if top.Value >= b.opts.AutoWinThreshold && (len(scores) == 1 || top.Value-scores[1].Value >= b.opts.AutoMargin) {
		return &Selection{
			AgentID:    top.AgentID,
			Confidence: top.Value,
			Reasoning:  top.Reasoning,
			Method:     MethodAutoWin,
			Scores:     scores,
		}, nil
	}

	if !b.opts.DisableLLM {
		sel, err := b.tiebreak(ctx, task, agents, scores)
		if err == nil {
			return sel, nil
		}
		b.opts.Logger.Warn("bidder tiebreak failed, falling back to cheap winner: %v", err)
	}

	if top.Value < b.opts.MinRoutable {
		return nil, core.NewError(core.KindNoRoute, fmt.Sprintf("no agent scored above %.2f for %q", b.opts.MinRoutable, task.Content))
	}
	return &Selection{
		AgentID:    top.AgentID,
		Confidence: top.Value,
		Reasoning:  top.Reasoning,
		Method:     MethodFallback,
		Scores:     scores,
	}, nil
}

// cheapPass scores every candidate without model calls. The result is sorted
// by (value desc, agent id asc) so ties break deterministically.
func (b *UnifiedBidder) cheapPass(ctx context.Context, task *core.Task, agents []core.Agent) []Score {
	tokens := tokenSet(task.Content)
	scores := make([]Score, 0, len(agents))
	for _, a := range agents {
		spec := a.Spec()
		if spec.HasCapability(core.CapabilityBid) {
			if bidder, ok := a.(core.Bidder); ok {
				bid, err := bidder.Bid(ctx, task)
				if err == nil {
					scores = append(scores, Score{
						AgentID:    spec.ID,
						Value:      clamp01(bid.Confidence),
						Provenance: ProvenanceBid,
						Reasoning:  bid.Reasoning,
					})
					continue
				}
				b.opts.Logger.Warn("agent %s bid failed, using heuristic: %v", spec.ID, err)
			}
		}
		scores = append(scores, Score{
			AgentID:    spec.ID,
			Value:      heuristicScore(tokens, spec),
			Provenance: ProvenanceHeuristic,
			Reasoning:  "keyword and capability overlap",
		})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Value != scores[j].Value {
			return scores[i].Value > scores[j].Value
		}
		return scores[i].AgentID < scores[j].AgentID
	})
	return scores
}

type tiebreakVerdict struct {
	WinnerID   string  `json:"winnerId"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (b *UnifiedBidder) tiebreak(ctx context.Context, task *core.Task, agents []core.Agent, scores []Score) (*Selection, error) {
	candidates := scores
	if len(candidates) > b.opts.TopK {
		candidates = candidates[:b.opts.TopK]
	}

	specs := make(map[string]core.AgentSpec, len(agents))
	for _, a := range agents {
		spec := a.Spec()
		specs[spec.ID] = spec
	}

	cb := b.breakers.Breaker(BreakerName)
	resp, err := breaker.Do(ctx, cb, func(ctx context.Context) (*llm.ChatResponse, error) {
		return b.client.Chat(ctx, llm.ChatRequest{
			Profile:   llm.ProfileFast,
			System:    tiebreakSystemPrompt(specs, candidates),
			Messages:  []llm.Message{{Role: "user", Content: tiebreakUserPrompt(task, candidates)}},
			JSONMode:  true,
			MaxTokens: b.opts.MaxTokens,
			Feature:   "bidder",
		})
	})
	if err != nil {
		return nil, err
	}

	var verdict tiebreakVerdict
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &verdict); err != nil {
		return nil, fmt.Errorf("unparseable tiebreak verdict: %w", err)
	}
	if _, ok := specs[verdict.WinnerID]; !ok {
		return nil, fmt.Errorf("tiebreak named unknown agent %q", verdict.WinnerID)
	}

	usage := resp.TokenUsage
	return &Selection{
		AgentID:    verdict.WinnerID,
		Confidence: clamp01(verdict.Confidence),
		Reasoning:  verdict.Reasoning,
		Method:     MethodLLM,
		Scores:     scores,
		TokenUsage: &usage,
	}, nil
}

func tiebreakSystemPrompt(specs map[string]core.AgentSpec, candidates []Score) string {
	var sb strings.Builder
	sb.WriteString("You route user requests to the single best-suited agent.\n")
	sb.WriteString("Candidate agents:\n")
	for _, c := range candidates {
		spec := specs[c.AgentID]
		sb.WriteString(fmt.Sprintf("- id: %s\n  description: %s\n", spec.ID, spec.Description))
		if len(spec.Capabilities) > 0 {
			caps := make([]string, len(spec.Capabilities))
			for i, c := range spec.Capabilities {
				caps[i] = string(c)
			}
			sb.WriteString(fmt.Sprintf("  capabilities: %s\n", strings.Join(caps, ", ")))
		}
		if len(spec.Patterns) > 0 {
			sb.WriteString(fmt.Sprintf("  example requests: %s\n", strings.Join(spec.Patterns, " | ")))
		}
	}
	sb.WriteString("\nRespond with JSON only: {\"winnerId\": \"...\", \"confidence\": 0.0-1.0, \"reasoning\": \"...\"}")
	return sb.String()
}

func tiebreakUserPrompt(task *core.Task, candidates []Score) string {
	var sb strings.Builder
	sb.WriteString("Request: ")
	sb.WriteString(task.Content)
	sb.WriteString("\n\nPreliminary scores:\n")
	for _, c := range candidates {
		sb.WriteString(fmt.Sprintf("- %s: %.2f (%s)\n", c.AgentID, c.Value, c.Provenance))
	}
	return sb.String()
}

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// tokenSet lowercases, strips punctuation and splits the content into a set
// of words.
func tokenSet(content string) map[string]struct{} {
	cleaned := punctuation.ReplaceAllString(strings.ToLower(content), " ")
	set := make(map[string]struct{})
	for _, w := range strings.Fields(cleaned) {
		set[w] = struct{}{}
	}
	return set
}

// heuristicScore blends keyword and capability hit rates for agents without
// a self-bid.
func heuristicScore(tokens map[string]struct{}, spec core.AgentSpec) float64 {
	caps := make([]string, len(spec.Capabilities))
	for i, c := range spec.Capabilities {
		caps[i] = string(c)
	}
	return clamp01(0.5*hitRate(tokens, spec.Keywords) + 0.5*hitRate(tokens, caps))
}

// hitRate is the fraction of terms present in the task token set. Multi-word
// terms count when all their words match.
func hitRate(tokens map[string]struct{}, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, term := range terms {
		words := strings.Fields(strings.ToLower(term))
		if len(words) == 0 {
			continue
		}
		matched := true
		for _, w := range words {
			if _, ok := tokens[w]; !ok {
				matched = false
				break
			}
		}
		if matched {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// extractJSON strips markdown code fences some models wrap around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
