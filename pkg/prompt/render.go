// Package prompt renders structured props into the ordered message list
// sent to the model. Rendering is pure: the same props always produce the
// same messages.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mkosler/aide/pkg/conversation"
	"github.com/mkosler/aide/pkg/llm"
)

const (
	SummaryPrefix = "The conversation history before this point was summarized into the following digest:\n\n<summary>\n"
	SummarySuffix = "\n</summary>"
)

// Artifact is a snapshot of an actively-edited external artifact (for the
// summarizer's bounded sub-context).
type Artifact struct {
	Path    string
	Content string
}

// Props describes everything a request renders from.
type Props struct {
	SystemPrompt string
	Artifact     *Artifact
	Units        []conversation.ReplayUnit
	// Instruction is a trailing user-role directive, e.g. the
	// summarization request.
	Instruction string
	// MetaMarker is a diagnostic note re-injected after a summarization so
	// replays show where the digest was spliced in.
	MetaMarker string
}

// Render produces the ordered message list for the given props.
func Render(props Props) ([]llm.Message, error) {
	messages := make([]llm.Message, 0, 2*len(props.Units)+3)

	system := props.SystemPrompt
	if props.Artifact != nil {
		var sb strings.Builder
		sb.WriteString(system)
		sb.WriteString("\n\n## Active file\n")
		sb.WriteString(props.Artifact.Path)
		sb.WriteString("\n```\n")
		sb.WriteString(props.Artifact.Content)
		sb.WriteString("\n```")
		system = sb.String()
	}
	if system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}

	for _, unit := range props.Units {
		switch unit.Kind {
		case conversation.UnitRequest:
			messages = append(messages, llm.Message{Role: "user", Content: unit.Request})
		case conversation.UnitSummary:
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: SummaryPrefix + unit.Summary + SummarySuffix,
			})
		case conversation.UnitTurn:
			if unit.Request != "" {
				messages = append(messages, llm.Message{Role: "user", Content: unit.Request})
			}
			messages = append(messages, renderRounds(unit.Rounds)...)
		default:
			return nil, fmt.Errorf("unknown replay unit kind %q", unit.Kind)
		}
	}

	if props.MetaMarker != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "meta: " + props.MetaMarker})
	}
	if props.Instruction != "" {
		messages = append(messages, llm.Message{Role: "user", Content: props.Instruction})
	}
	return messages, nil
}

func renderRounds(rounds []conversation.ReplayRound) []llm.Message {
	messages := make([]llm.Message, 0, 2*len(rounds))
	for _, rr := range rounds {
		assistant := llm.Message{Role: "assistant", Content: rr.Round.Response}
		for _, tc := range rr.Round.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, llm.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages = append(messages, assistant)

		for _, tc := range rr.Round.ToolCalls {
			payload, ok := rr.Results[tc.ID]
			if !ok {
				// Result was deferred past a ceiling interruption and never
				// produced; the model still needs a tool message per call.
				payload = "(no result recorded)"
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    payload,
				ToolCallID: tc.ID,
			})
		}
	}
	return messages
}

// FlattenText concatenates message contents for token estimation.
func FlattenText(messages []llm.Message) []string {
	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		var sb strings.Builder
		sb.WriteString(m.Content)
		for _, tc := range m.ToolCalls {
			sb.WriteString(tc.Function.Name)
			sb.WriteString(tc.Function.Arguments)
		}
		texts = append(texts, sb.String())
	}
	return texts
}

