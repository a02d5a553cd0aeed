// Package congress implements the three-persona consensus engine.
//
// Every evaluation runs the same state machine: collect three independent
// votes, tally the majority, append one VotingSession to the log. Personas
// never see each other's votes, and the historical narrative shown to them
// contains only prior prompts, responses and context, never prior
// outcomes, so no member can anchor on precedent.
package congress

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"todoforge/internal/logging"
	"todoforge/internal/ollama"
)

const (
	// Per-session caps inside the historical narrative.
	narrativePromptCap   = 400
	narrativeResponseCap = 400
	narrativeContextCap  = 200

	// narrativeTokenBudget bounds the whole narrative; oldest lines are
	// dropped first when it is exceeded.
	narrativeTokenBudget = 8000

	// actionFieldCap bounds each field of the action under review inside
	// a ballot prompt.
	actionFieldCap = 500

	truncationMarker = "[... earlier sessions truncated ...]"
)

// CompletionClient is the completion surface the congress needs.
// Mirrors the compressor's interface to avoid coupling the packages.
type CompletionClient interface {
	Complete(ctx context.Context, model, system, prompt string) string
}

// SessionSink receives each finalized voting session for persistence.
type SessionSink interface {
	SaveSession(s VotingSession) error
}

// Congress collects votes from three fixed personas and tallies decisions.
// The only state shared across Evaluate calls is the append-only session
// log; concurrent readers take snapshot copies.
type Congress struct {
	client      CompletionClient
	personas    []Persona
	spec        string
	voteTimeout time.Duration
	sink        SessionSink

	mu       sync.Mutex
	sessions []VotingSession
}

// New creates a congress over exactly three personas. The spec text is the
// TODO specification embedded verbatim in every ballot.
func New(client CompletionClient, personas []Persona, spec string) (*Congress, error) {
	if len(personas) != PersonaCount {
		return nil, fmt.Errorf("congress requires exactly %d personas, got %d", PersonaCount, len(personas))
	}
	return &Congress{
		client:      client,
		personas:    personas,
		spec:        spec,
		voteTimeout: 2 * time.Minute,
	}, nil
}

// SetVoteTimeout bounds each persona's completion call.
func (c *Congress) SetVoteTimeout(d time.Duration) {
	if d > 0 {
		c.voteTimeout = d
	}
}

// SetSink attaches a persistence sink for finalized sessions. Sink errors
// are logged, never propagated: persistence is a mirror, not the log.
func (c *Congress) SetSink(sink SessionSink) {
	c.sink = sink
}

// Evaluate submits one AI action to all three personas and returns the
// majority decision. The three ballots are independent and issued
// concurrently; a failed or timed-out ballot degrades to the conservative
// default vote so the remaining members still resolve a majority.
func (c *Congress) Evaluate(ctx context.Context, originalPrompt, aiResponse, freeContext, decisionType string) (*Decision, error) {
	start := time.Now()
	logging.Congress("Evaluate: type=%s prompt_len=%d response_len=%d", decisionType, len(originalPrompt), len(aiResponse))

	narrative := c.buildNarrative()

	votes := make([]Vote, len(c.personas))
	g, gctx := errgroup.WithContext(ctx)
	for i, persona := range c.personas {
		i, persona := i, persona
		g.Go(func() error {
			votes[i] = c.collectVote(gctx, persona, originalPrompt, aiResponse, freeContext, decisionType, narrative)
			return nil
		})
	}
	_ = g.Wait() // ballots never return errors; failures are default votes

	decision := tally(votes)

	session := VotingSession{
		DecisionType: decisionType,
		Prompt:       originalPrompt,
		Response:     aiResponse,
		Context:      freeContext,
		Decision:     *decision,
		Timestamp:    time.Now(),
	}

	c.mu.Lock()
	session.Sequence = len(c.sessions) + 1
	c.sessions = append(c.sessions, session)
	c.mu.Unlock()

	if c.sink != nil {
		if err := c.sink.SaveSession(session); err != nil {
			logging.Get(logging.CategoryCongress).Warn("Evaluate: failed to persist session %d: %v", session.Sequence, err)
		}
	}

	logging.Congress("Evaluate: session=%d approved=%v tally=%d-%d unanimous=%v low_confidence=%v in %v",
		session.Sequence, decision.Approved, decision.Yes, decision.No, decision.Unanimous,
		decision.LowConfidence(), time.Since(start))
	return decision, nil
}

// collectVote issues one persona's ballot and parses the response.
// Unreachable models are not retried inline: the in-band stream error (or
// an empty response) parses to the default vote.
func (c *Congress) collectVote(ctx context.Context, persona Persona, prompt, response, freeContext, decisionType, narrative string) Vote {
	ctx, cancel := context.WithTimeout(ctx, c.voteTimeout)
	defer cancel()

	ballot := c.buildBallot(prompt, response, freeContext, decisionType, narrative)
	raw := c.client.Complete(ctx, persona.Model, persona.PromptBlock(), ballot)

	if ollama.IsStreamError(raw) {
		logging.Get(logging.CategoryCongress).Warn("collectVote: %s ballot failed in-band, using default vote", persona.Name)
	}

	vote := ParseVote(raw)
	vote.Persona = persona.Name
	logging.CongressDebug("collectVote: %s -> approve=%v confidence=%.2f", persona.Name, vote.Approve, vote.Confidence)
	return vote
}

// buildBallot renders the evaluation prompt shared by all three personas.
// Action fields are capped so a huge diff cannot crowd out the narrative.
func (c *Congress) buildBallot(prompt, response, freeContext, decisionType, narrative string) string {
	var sb strings.Builder

	sb.WriteString("=== TODO SPECIFICATION ===\n")
	sb.WriteString(c.spec)
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "=== ACTION UNDER REVIEW (%s) ===\n", decisionType)
	fmt.Fprintf(&sb, "PROMPT: %s\n", truncate(prompt, actionFieldCap))
	fmt.Fprintf(&sb, "RESPONSE: %s\n", truncate(response, actionFieldCap))
	fmt.Fprintf(&sb, "CONTEXT: %s\n\n", truncate(freeContext, actionFieldCap))

	sb.WriteString("=== PRIOR SESSIONS (outcomes withheld) ===\n")
	if narrative == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(narrative)
		sb.WriteString("\n")
	}

	sb.WriteString("\n=== INSTRUCTIONS ===\n")
	sb.WriteString("Respond with exactly three lines:\n")
	sb.WriteString("VOTE: YES or NO\n")
	sb.WriteString("CONFIDENCE: a number between 0 and 1\n")
	sb.WriteString("REASON: one sentence\n")

	return sb.String()
}

// buildNarrative renders all prior sessions in order, oldest first,
// excluding decision outcomes, then trims to the narrative token budget by
// dropping the oldest lines first behind a visible marker.
func (c *Congress) buildNarrative() string {
	c.mu.Lock()
	sessions := make([]VotingSession, len(c.sessions))
	copy(sessions, c.sessions)
	c.mu.Unlock()

	if len(sessions) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&sb, "Session %d [%s]\n", s.Sequence, s.DecisionType)
		fmt.Fprintf(&sb, "PROMPT: %s\n", truncate(s.Prompt, narrativePromptCap))
		fmt.Fprintf(&sb, "RESPONSE: %s\n", truncate(s.Response, narrativeResponseCap))
		fmt.Fprintf(&sb, "CONTEXT: %s\n", truncate(s.Context, narrativeContextCap))
	}

	narrative := sb.String()
	if ollama.CountTokens(narrative) <= narrativeTokenBudget {
		return narrative
	}

	lines := strings.Split(narrative, "\n")
	budgetBytes := (narrativeTokenBudget * 4) - len(truncationMarker) - 1
	kept := lines
	size := len(narrative)
	for len(kept) > 0 && size > budgetBytes {
		size -= len(kept[0]) + 1
		kept = kept[1:]
	}
	return truncationMarker + "\n" + strings.Join(kept, "\n")
}

// History returns a snapshot copy of the append-only session log.
func (c *Congress) History() []VotingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]VotingSession, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// tally aggregates three votes into a decision. Three voters make ties
// impossible.
func tally(votes []Vote) *Decision {
	d := &Decision{Votes: votes}
	for _, v := range votes {
		if v.Approve {
			d.Yes++
		} else {
			d.No++
		}
	}
	d.Approved = d.Yes > d.No
	d.Unanimous = d.Yes == len(votes) || d.No == len(votes)
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
