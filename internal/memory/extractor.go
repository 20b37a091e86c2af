package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carelink/internal/llm"
)

const extractMaxTokens = 1024

// Extractor derives structured facts and corrections from a patient
// utterance, given the patient's current active facts as context.
type Extractor struct {
	provider llm.Provider
	logger   log.Logger
}

// NewExtractor creates a fact extractor backed by the given provider.
func NewExtractor(provider llm.Provider, logger log.Logger) *Extractor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Extractor{provider: provider, logger: logger}
}

// Extract returns the facts found in the utterance. It never fails: on
// provider error or unparseable output it returns an empty slice.
func (e *Extractor) Extract(ctx context.Context, utterance string, activeFacts []Item) []Fact {
	resp, err := e.provider.Complete(ctx, &llm.Request{
		System:    extractSystemPrompt,
		Prompt:    buildExtractPrompt(utterance, activeFacts),
		MaxTokens: extractMaxTokens,
	})
	if err != nil {
		e.logger.Error(ctx, err, "fact extraction failed, keeping memory unchanged")
		return nil
	}

	payload := llm.JSONBlock(resp.Text)
	if payload == "" {
		e.logger.Warn(ctx, "fact extraction returned no JSON, keeping memory unchanged")
		return nil
	}

	var facts []Fact
	if err := json.Unmarshal([]byte(payload), &facts); err != nil {
		e.logger.Warn(ctx, "fact extraction output unparseable, keeping memory unchanged", "error", err.Error())
		return nil
	}

	out := facts[:0]
	for _, f := range facts {
		if strings.TrimSpace(f.Value) == "" || strings.TrimSpace(f.Type) == "" {
			continue
		}
		switch f.Action {
		case ActionAdd, ActionUpdate, ActionRemove:
			out = append(out, f)
		}
	}
	return out
}

const extractSystemPrompt = `You extract structured health facts from a single patient message.

Return ONLY a JSON array. Each element:
{"type": "...", "value": "...", "timeline": "...", "status": "...", "action": "add|update|remove", "previous_value": "..."}

Rules:
- type is one of: symptom, medication, allergy, condition, chief_complaint, frequency, lifestyle.
- action "add": a fact the patient newly reports.
- A description of how often an EXISTING symptom occurs ("every few hours",
  "twice a week") is a NEW fact with type "frequency" and action "add".
  It is NOT a status change to the existing symptom.
- action "update": an explicit status change to a known fact
  ("I stopped taking X", "it went away"). Set status to "stopped" or
  "resolved" and previous_value to the known fact's value.
- action "remove": an explicit retraction or correction
  ("actually, I was wrong", "it's not X"). Set previous_value.
- If the message contains no health facts, return [].`

func buildExtractPrompt(utterance string, activeFacts []Item) string {
	known := "none"
	if len(activeFacts) > 0 {
		var sb strings.Builder
		for _, it := range activeFacts {
			fmt.Fprintf(&sb, "- %s: %s\n", it.MemoryType, it.Value)
		}
		known = sb.String()
	}

	return fmt.Sprintf(`Known active facts for this patient:
%s

Patient message:
%s

Extract the facts as a JSON array.`, known, utterance)
}
