package buffer

// Roles used in a transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one serializable transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript is the conversation an agent accumulates while it is active.
type Transcript []Message

func (m Transcript) Add(items ...Message) Transcript {
	out := make(Transcript, 0, len(m)+len(items))
	out = append(out, m...)
	return append(out, items...)
}

// Last returns the most recent message, if any.
func (m Transcript) Last() (Message, bool) {
	if len(m) == 0 {
		return Message{}, false
	}
	return m[len(m)-1], true
}

func (m Transcript) Clone() Transcript {
	if m == nil {
		return nil
	}
	out := make(Transcript, len(m))
	copy(out, m)
	return out
}
