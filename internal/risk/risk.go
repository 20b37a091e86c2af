// Package risk classifies the medical urgency of a single patient
// utterance.
//
// The assessor is invoked with the unredacted message: risk accuracy
// takes priority over minimizing exposure for this one focused call,
// which never leaves the completion-service boundary used for
// generation anyway.
package risk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carelink/internal/llm"
)

const assessMaxTokens = 512

// Level is the urgency classification of an utterance.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Confidence is the classifier's self-reported certainty.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Assessment is the outcome of one risk classification.
// ShouldEscalate is an explicit signal distinct from Level: a high
// level does not imply escalation unless the classifier sets the flag.
type Assessment struct {
	Level          Level      `json:"level"`
	Reason         string     `json:"reason"`
	Confidence     Confidence `json:"confidence"`
	ShouldEscalate bool       `json:"should_escalate"`
}

// fallback is the fail-open default: classifier failure must never be
// treated as "low risk".
func fallback() *Assessment {
	return &Assessment{
		Level:      LevelMedium,
		Reason:     "risk classifier unavailable",
		Confidence: ConfidenceLow,
	}
}

// Assessor classifies patient utterances via the completion service.
type Assessor struct {
	provider llm.Provider
	logger   log.Logger
}

// New creates a risk assessor backed by the given provider.
func New(provider llm.Provider, logger log.Logger) *Assessor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Assessor{provider: provider, logger: logger}
}

// Assess classifies the raw utterance. It never returns an error: on
// classifier failure or unparseable output it returns the fail-open
// default.
func (a *Assessor) Assess(ctx context.Context, utterance string) *Assessment {
	resp, err := a.provider.Complete(ctx, &llm.Request{
		System:    assessSystemPrompt,
		Prompt:    fmt.Sprintf("Patient message:\n%s\n\nClassify the urgency as JSON.", utterance),
		MaxTokens: assessMaxTokens,
	})
	if err != nil {
		a.logger.Error(ctx, err, "risk classification failed, using fail-open default")
		return fallback()
	}

	payload := llm.JSONBlock(resp.Text)
	if payload == "" {
		a.logger.Warn(ctx, "risk classifier returned no JSON, using fail-open default")
		return fallback()
	}

	var out Assessment
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		a.logger.Warn(ctx, "risk classifier output unparseable, using fail-open default", "error", err.Error())
		return fallback()
	}

	switch out.Level {
	case LevelLow, LevelMedium, LevelHigh:
	default:
		a.logger.Warn(ctx, "risk classifier returned unknown level, using fail-open default", "level", string(out.Level))
		return fallback()
	}
	switch out.Confidence {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		out.Confidence = ConfidenceLow
	}

	return &out
}

const assessSystemPrompt = `You are a medical urgency classifier for a patient messaging service.

Classify the patient message and return ONLY a JSON object:
{"level": "low|medium|high", "reason": "...", "confidence": "low|medium|high", "should_escalate": true|false}

- level "high": symptoms that could indicate an emergency (chest pain,
  trouble breathing, stroke signs, severe bleeding, suicidal ideation).
- level "medium": symptoms that need clinical attention soon.
- level "low": routine questions, mild self-limiting complaints.
- should_escalate: true only when a human clinician should review this
  conversation now. Do not set it for every high level; set it when the
  message warrants hand-off.
- reason: one short sentence naming the symptom category, not quoting
  the patient.`
