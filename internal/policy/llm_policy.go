// File: internal/policy/llm_policy.go
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
	"github.com/dmage20/linkedin-job-agent/internal/llmutil"
)

// LLMPolicy implements schemas.Policy by asking an LLM to choose the next
// action from a triaged snapshot. Responses are parsed and schema-validated
// before they leave this package; anything malformed becomes a
// *ValidationError.
type LLMPolicy struct {
	logger    *zap.Logger
	llmClient schemas.LLMClient
	// apiTimeout bounds one generation round trip. The orchestrator applies
	// its own outer ceiling on top.
	apiTimeout time.Duration
}

// Statically assert the interface is satisfied.
var _ schemas.Policy = (*LLMPolicy)(nil)

// NewLLMPolicy creates the LLM-backed policy.
func NewLLMPolicy(client schemas.LLMClient, apiTimeout time.Duration, logger *zap.Logger) (*LLMPolicy, error) {
	if client == nil {
		return nil, fmt.Errorf("llm policy requires an LLM client")
	}
	if logger == nil {
		return nil, fmt.Errorf("llm policy requires a logger")
	}
	if apiTimeout <= 0 {
		apiTimeout = 60 * time.Second
	}
	return &LLMPolicy{
		logger:     logger.Named("policy"),
		llmClient:  client,
		apiTimeout: apiTimeout,
	}, nil
}

const systemPrompt = `You are the decision engine of an automated job application assistant.
You receive a triaged accessibility snapshot of a LinkedIn page and the applicant's profile,
and you must choose exactly one next action, returned as a single JSON object.

Decision schema:
{
  "action": "click" | "fill" | "pause_for_manual" | "submit" | "error" | "task_complete",
  "reasoning": "<one sentence explaining the choice>",
  "ref": "<element ref, required for click and submit>",
  "fields": [{"ref": "...", "value": "...", "type": "text"|"select"|"checkbox"|"file"}],
  "pause_reason": "<required for pause_for_manual>",
  "error_message": "<required for error>"
}

Rules:
- Only target refs that appear in the snapshot you were given. Never invent a ref.
- "fill" is for form inputs; supply every visible unfilled field you can answer from the profile.
- Answer questions ONLY from the applicant profile. If the profile has no answer for a required
  question, or the question concerns compensation, visa status, or anything sensitive, use
  "pause_for_manual" with a clear pause_reason instead of guessing.
- "submit" is reserved for the final submit control on the review step. A human confirmation
  gate sits behind it; your job is only to propose it.
- "task_complete" when the page shows the application was already sent.
- "error" when the page is not a job application flow at all or is unrecoverable.
- The snapshot may be marked truncated; if the control you need is missing, prefer "click" on a
  navigation control or "pause_for_manual" over guessing.

Respond with the JSON object only.`

// Decide implements schemas.Policy.
func (p *LLMPolicy) Decide(ctx context.Context, snapshot schemas.TriagedSnapshot, tc schemas.TaskContext) (schemas.Decision, error) {
	userPrompt, err := p.buildUserPrompt(snapshot, tc)
	if err != nil {
		return schemas.Decision{}, fmt.Errorf("build policy prompt: %w", err)
	}

	apiCtx, cancel := context.WithTimeout(ctx, p.apiTimeout)
	defer cancel()

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	}

	start := time.Now()
	response, err := p.llmClient.Generate(apiCtx, req)
	if err != nil {
		return schemas.Decision{}, fmt.Errorf("llm generation failed: %w", err)
	}

	decision, err := llmutil.ParseJSONResponse[schemas.Decision](response)
	if err != nil {
		p.logger.Warn("Policy returned unparseable JSON.", zap.Error(err))
		return schemas.Decision{}, &ValidationError{Reason: err.Error(), Raw: response}
	}
	if err := decision.Validate(); err != nil {
		p.logger.Warn("Policy returned an invalid decision.",
			zap.String("action", string(decision.Action)), zap.Error(err))
		return schemas.Decision{}, &ValidationError{Reason: err.Error(), Raw: response}
	}

	p.logger.Info("Policy decision.",
		zap.String("action", string(decision.Action)),
		zap.String("ref", decision.Ref),
		zap.Int("fields", len(decision.Fields)),
		zap.Duration("duration", time.Since(start)))
	return *decision, nil
}

// buildUserPrompt assembles the per-step context: job, profile, recent
// history window, and the triaged snapshot.
func (p *LLMPolicy) buildUserPrompt(snapshot schemas.TriagedSnapshot, tc schemas.TaskContext) (string, error) {
	profileJSON, err := json.MarshalIndent(tc.Profile, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal applicant profile: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Job URL: %s\n", tc.JobURL)
	if tc.JobTitle != "" {
		fmt.Fprintf(&b, "Job title: %s\n", tc.JobTitle)
	}
	if tc.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", tc.Company)
	}

	b.WriteString("\nApplicant profile:\n")
	b.Write(profileJSON)
	b.WriteString("\n")

	if tc.CoverLetter != "" {
		b.WriteString("\nA tailored cover letter is available and can be pasted into a cover letter field.\n")
	}

	if len(tc.History) > 0 {
		b.WriteString("\nRecent steps (oldest first):\n")
		for _, h := range tc.History {
			fmt.Fprintf(&b, "- step %d [%s] %s", h.Iteration, h.State, h.Action)
			if h.Ref != "" {
				fmt.Fprintf(&b, " ref=%s", h.Ref)
			}
			fmt.Fprintf(&b, " -> %s\n", h.Outcome)
		}
	}

	fmt.Fprintf(&b, "\nPage state: %s\n", snapshot.State)
	if snapshot.Truncated {
		b.WriteString("Note: the snapshot below was truncated to fit the budget and may be incomplete.\n")
	}
	b.WriteString("\nSnapshot:\n")
	b.WriteString(snapshot.Text)
	b.WriteString("\n\nChoose the next action.")
	return b.String(), nil
}
