package chat

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/carelink/internal/memory"
)

// fallbackReply is returned to the patient when the conversational
// model is unreachable. The turn is still recorded.
const fallbackReply = "I'm sorry, I'm having trouble responding right now. " +
	"Please try again in a moment. If your symptoms feel urgent, contact " +
	"your clinic or local emergency services directly."

func buildSystemPrompt() string {
	return `You are a careful healthcare messaging assistant for a clinic.

Rules:
- You are not a clinician. Never diagnose, never prescribe, never give dosages.
- For anything that sounds urgent (chest pain, trouble breathing, stroke
  signs, severe bleeding), tell the patient to seek emergency care now.
- Statements labelled "clinician guidance" in the health profile come
  from the patient's care team. They are authoritative and override
  anything you inferred earlier.
- When you use the patient's history or profile, cite the source in
  square brackets, e.g. [your health profile] or [your previous message].
- Conversation context may contain placeholders like [PERSON_1]; treat
  them as opaque names and reuse them verbatim when referring to people.
- Be warm and concise.`
}

// buildConversationPrompt assembles the redactable context for one
// turn: the active health profile, the recent message window, and the
// new patient message.
func buildConversationPrompt(items []memory.Item, recent []Message, utterance string) string {
	var sb strings.Builder

	sb.WriteString("Patient health profile:\n")
	if len(items) == 0 {
		sb.WriteString("(nothing recorded yet)\n")
	}
	for _, it := range items {
		fmt.Fprintf(&sb, "- %s: %s", it.MemoryType, it.Value)
		if it.Timeline != "" {
			fmt.Fprintf(&sb, " (%s)", it.Timeline)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nRecent conversation:\n")
	if len(recent) == 0 {
		sb.WriteString("(new conversation)\n")
	}
	for _, msg := range recent {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Sender, msg.Content)
	}

	fmt.Fprintf(&sb, "\nNew patient message:\n%s\n\nReply to the patient.", utterance)
	return sb.String()
}
