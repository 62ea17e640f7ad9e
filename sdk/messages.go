package rtvi

import "encoding/json"

// Role identifies the author of a context message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one LLM context entry. The remote inference service is the
// system of record for the session context; the client's copy is advisory.
type Message struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Context returns a copy of the advisory context messages accumulated during
// the session (tool execution results and application appends).
func (c *Client) Context() []Message {
	c.contextMu.Lock()
	defer c.contextMu.Unlock()
	out := make([]Message, len(c.contextMsgs))
	for i, msg := range c.contextMsgs {
		out[i] = Message{Role: msg.Role, Content: cloneRaw(msg.Content)}
	}
	return out
}

// AppendContext appends a message to the advisory context copy.
func (c *Client) AppendContext(msg Message) {
	c.appendContext(msg)
}

func (c *Client) appendContext(msg Message) {
	c.contextMu.Lock()
	defer c.contextMu.Unlock()
	c.contextMsgs = append(c.contextMsgs, msg)
}
