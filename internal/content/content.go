// File: internal/content/content.go

// Package content generates application collateral, currently the tailored
// cover letter. Generation runs on the fast model tier; the output is plain
// text handed to the policy as optional fill material.
package content

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
)

// Generator produces text collateral for one application.
type Generator struct {
	logger *zap.Logger
	llm    schemas.LLMClient
}

// NewGenerator creates a content generator.
func NewGenerator(llm schemas.LLMClient, logger *zap.Logger) (*Generator, error) {
	if llm == nil {
		return nil, fmt.Errorf("content generator requires an LLM client")
	}
	if logger == nil {
		return nil, fmt.Errorf("content generator requires a logger")
	}
	return &Generator{logger: logger.Named("content"), llm: llm}, nil
}

const coverLetterSystemPrompt = `You write concise, professional cover letters.
Given an applicant profile and a job, produce a cover letter of at most four short
paragraphs. Ground every claim in the profile; never invent employers, titles or
dates. Plain text only: no markdown, no placeholders, no salutation templates
like "[Hiring Manager]".`

// CoverLetter generates a letter tailored to the job. Returns plain text.
func (g *Generator) CoverLetter(ctx context.Context, p schemas.ApplicantProfile, jobTitle, company, jobDescription string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Applicant: %s (%s)\n", p.FullName, p.Location)
	if p.LinkedIn != "" {
		fmt.Fprintf(&b, "LinkedIn: %s\n", p.LinkedIn)
	}
	fmt.Fprintf(&b, "\nJob title: %s\nCompany: %s\n", jobTitle, company)
	if jobDescription != "" {
		fmt.Fprintf(&b, "\nJob description:\n%s\n", jobDescription)
	}
	b.WriteString("\nWrite the cover letter.")

	response, err := g.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: coverLetterSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.7},
	})
	if err != nil {
		return "", fmt.Errorf("generate cover letter: %w", err)
	}

	letter := stripFences(response)
	if letter == "" {
		return "", fmt.Errorf("generate cover letter: model returned empty text")
	}
	g.logger.Info("Generated cover letter.",
		zap.String("company", company), zap.Int("chars", len(letter)))
	return letter, nil
}

// stripFences removes a surrounding markdown code fence, which some models
// add even for plain-text requests.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
