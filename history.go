package switchboard

// Marker is an opaque snapshot of a history's length, used to rewind a
// failed turn.
type Marker struct {
	length int
}

// History is the per-session conversation log the router feeds to the agent
// executor. It stores only user, assistant and system messages; tool-call
// transcripts live and die inside a single executor run.
//
// History is not safe for concurrent use. The router serializes turns per
// session.
type History struct {
	msgs []ChatMessage
}

// NewHistory returns an empty history. A non-empty systemPrompt becomes a
// leading system message that survives trimming.
func NewHistory(systemPrompt string) *History {
	h := &History{}
	if systemPrompt != "" {
		h.msgs = append(h.msgs, SystemMessage(systemPrompt))
	}
	return h
}

// Append pushes a message.
func (h *History) Append(role, content string) {
	h.msgs = append(h.msgs, ChatMessage{Role: role, Content: content})
}

// Messages returns an ordered copy for agent consumption.
func (h *History) Messages() []ChatMessage {
	out := make([]ChatMessage, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len reports the number of stored messages.
func (h *History) Len() int { return len(h.msgs) }

// Checkpoint captures the current position for a later Rollback.
func (h *History) Checkpoint() Marker {
	return Marker{length: len(h.msgs)}
}

// Rollback truncates the history to the position m captured. Messages
// appended after the checkpoint are dropped as if the turn never happened.
func (h *History) Rollback(m Marker) {
	if m.length < 0 || m.length > len(h.msgs) {
		return
	}
	h.msgs = h.msgs[:m.length]
}

// Trim keeps the most recent maxTurns turns, preserving a leading system
// message. A turn is a user message plus everything that follows it up to
// the next user message.
func (h *History) Trim(maxTurns int) {
	if maxTurns <= 0 || len(h.msgs) == 0 {
		return
	}
	head := 0
	if h.msgs[0].Role == "system" {
		head = 1
	}
	rest := h.msgs[head:]

	// Walk backwards counting user messages; cut in front of the oldest
	// user message still inside the window.
	cut := -1
	turns := 0
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i].Role == "user" {
			turns++
			if turns == maxTurns {
				cut = i
				break
			}
		}
	}
	if cut <= 0 {
		return // fewer turns than the window, nothing to drop
	}
	h.msgs = append(h.msgs[:head], rest[cut:]...)
}
