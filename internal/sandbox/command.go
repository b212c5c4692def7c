package sandbox

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// UnknownCmd is the synthetic command name given to lines that fail to
// parse.
const UnknownCmd = "unknown"

// Command is one framed protocol message exchanged with a sandboxed
// process. Besides the fixed fields, arbitrary payload fields travel in
// Extra and survive a round trip unchanged.
type Command struct {
	Cmd   string
	CmdID string
	Reply bool
	Extra map[string]interface{}
}

// NewCommand creates a request command with a fresh cmd_id.
func NewCommand(cmd string, fields map[string]interface{}) *Command {
	return &Command{
		Cmd:   cmd,
		CmdID: uuid.New().String(),
		Extra: cloneFields(fields),
	}
}

// NewReply creates a reply to orig, echoing its cmd and cmd_id.
func NewReply(orig *Command, fields map[string]interface{}) *Command {
	return &Command{
		Cmd:   orig.Cmd,
		CmdID: orig.CmdID,
		Reply: true,
		Extra: cloneFields(fields),
	}
}

func cloneFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Get returns an extra payload field.
func (c *Command) Get(key string) (interface{}, bool) {
	v, ok := c.Extra[key]
	return v, ok
}

// String returns an extra field as a string, or "" if absent or not a
// string.
func (c *Command) String(key string) string {
	s, _ := c.Extra[key].(string)
	return s
}

// Bool returns an extra field as a bool.
func (c *Command) Bool(key string) bool {
	b, _ := c.Extra[key].(bool)
	return b
}

// Float returns an extra field as a float64. JSON numbers decode to
// float64, so integer payloads arrive here too.
func (c *Command) Float(key string) (float64, bool) {
	f, ok := c.Extra[key].(float64)
	return f, ok
}

// Set stores an extra payload field.
func (c *Command) Set(key string, value interface{}) {
	if c.Extra == nil {
		c.Extra = make(map[string]interface{})
	}
	c.Extra[key] = value
}

// MarshalJSON flattens the fixed fields and Extra into one object.
func (c *Command) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{}, len(c.Extra)+3)
	for k, v := range c.Extra {
		obj[k] = v
	}
	obj["cmd"] = c.Cmd
	obj["cmd_id"] = c.CmdID
	obj["reply"] = c.Reply
	return json.Marshal(obj)
}

// UnmarshalJSON splits the fixed fields out of the object and keeps the
// rest in Extra.
func (c *Command) UnmarshalJSON(data []byte) error {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if cmd, ok := obj["cmd"].(string); ok {
		c.Cmd = cmd
	}
	if id, ok := obj["cmd_id"].(string); ok {
		c.CmdID = id
	}
	if reply, ok := obj["reply"].(bool); ok {
		c.Reply = reply
	}
	delete(obj, "cmd")
	delete(obj, "cmd_id")
	delete(obj, "reply")
	c.Extra = obj
	return nil
}

// ParseCommand decodes one protocol line.
func ParseCommand(line []byte) (*Command, error) {
	var c Command
	if err := json.Unmarshal(line, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseCommandOrUnknown decodes one protocol line, converting a parse
// failure into a synthetic unknown command carrying the raw line and
// the error. A malformed line must never abort the stream.
func ParseCommandOrUnknown(line []byte) *Command {
	c, err := ParseCommand(line)
	if err != nil {
		return NewCommand(UnknownCmd, map[string]interface{}{
			"line":  string(line),
			"error": err.Error(),
		})
	}
	return c
}

// Encode serializes the command to its single-line wire form, without
// the trailing newline.
func (c *Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding command %q: %w", c.Cmd, err)
	}
	return data, nil
}
