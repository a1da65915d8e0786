package orchestration

import (
	"strings"
	"sync"
	"unicode"

	"github.com/jinzhu/copier"

	"github.com/parley-ai/parley-core/core/llms"
)

const (
	// InterruptionMarker is appended to an assistant message when the user
	// cuts it off, so the history records a truncated utterance instead of
	// silently dropping it.
	InterruptionMarker = "—"
	// UserSilenceMarker is recorded as a user message when the user stays
	// silent past the session's silence timeout.
	UserSilenceMarker = "..."
)

// chatHistory accumulates incremental recognized and generated words into a
// role-tagged message sequence. Insertion order is conversational order.
//
// The orchestrator's control loop appends user deltas while the turn
// pipeline appends assistant deltas, so access is mutex-guarded.
type chatHistory struct {
	mu       sync.Mutex
	messages []llms.Message
}

func newChatHistory(instructions string) *chatHistory {
	history := &chatHistory{}
	if instructions != "" {
		history.messages = append(history.messages, llms.Message{
			Role:    llms.RoleSystem,
			Content: instructions,
		})
	}
	return history
}

// AppendDelta merges one incremental text delta into the history. A delta
// whose role differs from the open message's role starts a new message;
// otherwise it is appended with a single separating space when both sides
// need one. Reports whether a new message was started (the open message
// having been empty counts as new).
func (h *chatHistory) AppendDelta(delta string, role llms.Role) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.messages) == 0 || h.messages[len(h.messages)-1].Role != role {
		h.messages = append(h.messages, llms.Message{Role: role, Content: delta})
		return true
	}

	last := &h.messages[len(h.messages)-1]
	previousContent := last.Content

	needsSpaceLeft := previousContent != "" && !endsWithSpace(previousContent)
	needsSpaceRight := delta != "" && !startsWithSpace(delta)
	if needsSpaceLeft && needsSpaceRight {
		delta = " " + delta
	}

	last.Content += delta
	return previousContent == ""
}

// AppendInterruptionMarker records that the open assistant utterance was cut
// off by the user.
func (h *chatHistory) AppendInterruptionMarker() {
	h.AppendDelta(InterruptionMarker, llms.RoleAssistant)
}

// LastMessage returns the most recent non-blank message with the given role,
// or nil.
func (h *chatHistory) LastMessage(role llms.Role) *llms.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.messages) - 1; i >= 0; i-- {
		if h.messages[i].Role == role && strings.TrimSpace(h.messages[i].Content) != "" {
			message := h.messages[i]
			return &message
		}
	}
	return nil
}

// Messages returns a deep copy of the history in conversational order.
func (h *chatHistory) Messages() []llms.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	var snapshot []llms.Message
	if err := copier.Copy(&snapshot, h.messages); err != nil {
		snapshot = append(snapshot, h.messages...)
	}
	return snapshot
}

// PreprocessedMessages returns the history shaped for the generator:
//
//   - messages that are only interruption markers are dropped (an
//     interruption can land before the model says anything at all),
//   - adjacent same-role messages are merged with a space,
//   - a dummy user message is inserted when the history would otherwise
//     open assistant-first, which confuses some models,
//   - the silence-marker prefix is stripped from user messages that grew
//     past it, since the user resumed before the model could respond.
func (h *chatHistory) PreprocessedMessages() []llms.Message {
	messages := h.Messages()

	var output []llms.Message
	for _, message := range messages {
		if strings.ReplaceAll(message.Content, InterruptionMarker, "") == "" {
			continue
		}

		if message.Role == llms.RoleUser &&
			strings.HasPrefix(message.Content, UserSilenceMarker) &&
			message.Content != UserSilenceMarker {
			message.Content = strings.TrimPrefix(message.Content, UserSilenceMarker)
		}

		if len(output) > 0 && output[len(output)-1].Role == message.Role {
			output[len(output)-1].Content += " " + message.Content
			continue
		}
		output = append(output, message)
	}

	roleAt := func(index int) llms.Role {
		if index >= len(output) {
			return ""
		}
		return output[index].Role
	}

	if roleAt(0) == llms.RoleSystem && (roleAt(1) == "" || roleAt(1) == llms.RoleAssistant) {
		output = append(output[:1], append([]llms.Message{
			{Role: llms.RoleUser, Content: "Hello."},
		}, output[1:]...)...)
	}

	return output
}

func endsWithSpace(s string) bool {
	runes := []rune(s)
	return unicode.IsSpace(runes[len(runes)-1])
}

func startsWithSpace(s string) bool {
	for _, r := range s {
		return unicode.IsSpace(r)
	}
	return false
}
