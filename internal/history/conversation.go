package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ctxpilot/internal/logging"
	"ctxpilot/internal/tokens"
)

// ErrNothingToDetach is returned when no message can be detached.
var ErrNothingToDetach = errors.New("nothing to detach")

// digestOverhead approximates the framing tokens of a digest message.
const digestOverhead = 8

// Conversation is owned by the main loop and needs no locking.
type Conversation struct {
	log []Message

	// detached is the length of the log prefix covered by digest.
	detached int
	digest   *Digest

	nextSeq    int
	cfg        Config
	summarizer Summarizer
	counter    *tokens.Counter
	now        func() time.Time
}

// New creates an empty conversation. A nil summarizer selects Extractive.
func New(cfg Config, summarizer Summarizer) *Conversation {
	if summarizer == nil {
		summarizer = Extractive{}
	}
	return &Conversation{
		nextSeq:    1,
		cfg:        cfg,
		summarizer: summarizer,
		counter:    tokens.NewCounter(),
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (c *Conversation) SetClock(now func() time.Time) { c.now = now }

// Config returns the detachment configuration.
func (c *Conversation) Config() Config { return c.cfg }

// Append adds a message and returns it with its id and token cost.
func (c *Conversation) Append(origin Origin, role Role, content string) Message {
	return c.append(Message{Origin: origin, Role: role, Content: content})
}

// AppendUser adds a user message.
func (c *Conversation) AppendUser(content string) Message {
	return c.Append(OriginUser, RoleUser, content)
}

// AppendAgent adds an agent message, optionally requesting tool calls.
func (c *Conversation) AppendAgent(content string, calls []ToolCall) Message {
	return c.append(Message{Origin: OriginAgent, Role: RoleAssistant, Content: content, ToolCalls: calls})
}

// AppendToolResult adds the result of a tool call.
func (c *Conversation) AppendToolResult(callID, name, content string) Message {
	return c.append(Message{
		Origin:     OriginTool,
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   name,
	})
}

func (c *Conversation) append(m Message) Message {
	m.Seq = c.nextSeq
	m.ID = messageID(m.Origin, m.Seq)
	m.At = c.now()
	m.Tokens = c.cost(m)
	c.nextSeq++
	c.log = append(c.log, m)
	logging.HistoryDebug("Appended %s (%d tokens)", m.ID, m.Tokens)
	return m
}

func (c *Conversation) cost(m Message) int {
	n := c.counter.CountString(m.Content)
	for _, call := range m.ToolCalls {
		n += c.counter.CountString(call.Name)
		if len(call.Args) > 0 {
			if data, err := json.Marshal(call.Args); err == nil {
				n += c.counter.CountString(string(data))
			}
		}
	}
	return n
}

// Len returns the number of raw messages.
func (c *Conversation) Len() int { return len(c.log) }

// Raw returns a copy of the full append-only log.
func (c *Conversation) Raw() []Message {
	return append([]Message(nil), c.log...)
}

// Message returns a raw message by id.
func (c *Conversation) Message(id string) (Message, bool) {
	for _, m := range c.log {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Digest returns the current digest, or nil.
func (c *Conversation) Digest() *Digest {
	if c.digest == nil {
		return nil
	}
	d := *c.digest
	return &d
}

// Detached returns how many raw messages the digest covers.
func (c *Conversation) Detached() int { return c.detached }

// Live returns the messages not covered by the digest.
func (c *Conversation) Live() []Message {
	return append([]Message(nil), c.log[c.detached:]...)
}

// View returns the compacted representation: the digest, if any, as a
// system message followed by every message it does not cover.
func (c *Conversation) View() []Message {
	out := make([]Message, 0, len(c.log)-c.detached+1)
	if c.digest != nil {
		out = append(out, c.digestMessage())
	}
	return append(out, c.log[c.detached:]...)
}

func (c *Conversation) digestMessage() Message {
	d := c.digest
	return Message{
		ID:      d.ID,
		Origin:  OriginDigest,
		Role:    RoleSystem,
		Content: fmt.Sprintf("[Earlier conversation %s..%s, %d messages, summarized]\n%s", d.First, d.Last, d.Count, d.Summary),
		Tokens:  d.Tokens,
		At:      d.At,
	}
}

// Tokens returns the accounted total of the compacted view.
func (c *Conversation) Tokens() int {
	total := 0
	if c.digest != nil {
		total += c.digest.Tokens
	}
	for _, m := range c.log[c.detached:] {
		total += m.Tokens
	}
	return total
}

// RawTokens returns the token total of the full log.
func (c *Conversation) RawTokens() int {
	total := 0
	for _, m := range c.log {
		total += m.Tokens
	}
	return total
}

// boundary extends a cut so tool results stay with the call that produced
// them.
func (c *Conversation) boundary(end int) int {
	for end < len(c.log) && c.log[end].Origin == OriginTool {
		end++
	}
	return end
}

// Detach folds the oldest n live messages into the digest. Detachment is
// always oldest-first; a cut that would separate a tool result from its
// call is extended past the result.
func (c *Conversation) Detach(ctx context.Context, n int) (*Digest, error) {
	live := len(c.log) - c.detached
	if n <= 0 || live == 0 {
		return nil, ErrNothingToDetach
	}
	if n > live {
		n = live
	}
	end := c.boundary(c.detached + n)
	return c.detachTo(ctx, end)
}

func (c *Conversation) detachTo(ctx context.Context, end int) (*Digest, error) {
	msgs := c.log[c.detached:end]
	summary, err := c.summarizer.Summarize(ctx, c.digest, msgs)
	if err != nil {
		logging.HistoryDebug("Summarizer failed, using extractive fallback: %v", err)
		summary, _ = Extractive{}.Summarize(ctx, c.digest, msgs)
	}

	first := msgs[0].ID
	count := len(msgs)
	if c.digest != nil {
		first = c.digest.First
		count += c.digest.Count
	}
	d := &Digest{
		ID:      messageID(OriginDigest, c.nextSeq),
		First:   first,
		Last:    msgs[len(msgs)-1].ID,
		Count:   count,
		Summary: summary,
		At:      c.now(),
	}
	c.nextSeq++
	d.Tokens = c.counter.CountString(summary) + digestOverhead

	before := c.Tokens()
	c.digest = d
	c.detached = end
	logging.History("Detached %s..%s into %s: %d -> %d tokens", d.First, d.Last, d.ID, before, c.Tokens())
	return c.Digest(), nil
}

// detachable returns the largest cut the keep-recent rule allows.
func (c *Conversation) detachable() int {
	limit := len(c.log) - c.cfg.KeepRecent
	if limit < c.detached {
		return c.detached
	}
	// Never cut between a call and its results.
	for limit > c.detached && limit < len(c.log) && c.log[limit].Origin == OriginTool {
		limit--
	}
	return limit
}

// AutoDetach detaches oldest-first once Tokens exceeds the watermark,
// aiming for Watermark*TargetRatio and keeping the newest KeepRecent
// messages. It returns nil when nothing was done.
func (c *Conversation) AutoDetach(ctx context.Context) (*Digest, error) {
	if c.cfg.Watermark <= 0 || c.Tokens() <= c.cfg.Watermark {
		return nil, nil
	}
	ratio := c.cfg.TargetRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return c.ShrinkTo(ctx, int(float64(c.cfg.Watermark)*ratio))
}

// ShrinkTo detaches oldest-first until Tokens is at most limit or the
// keep-recent rule stops it. It returns the last digest written, or nil
// when nothing was done.
func (c *Conversation) ShrinkTo(ctx context.Context, limit int) (*Digest, error) {
	var last *Digest
	for c.Tokens() > limit {
		maxEnd := c.detachable()
		if maxEnd <= c.detached {
			break
		}

		// Smallest cut whose remaining live tokens fit next to the current digest.
		remaining := c.Tokens()
		end := c.detached
		for end < maxEnd && remaining > limit {
			remaining -= c.log[end].Tokens
			end++
		}
		end = c.boundary(end)
		if end > maxEnd {
			end = maxEnd
		}

		d, err := c.detachTo(ctx, end)
		if err != nil {
			return last, err
		}
		last = d
	}
	return last, nil
}

// Checkpoint captures the current state.
func (c *Conversation) Checkpoint() Checkpoint {
	return Checkpoint{
		logLen:   len(c.log),
		detached: c.detached,
		nextSeq:  c.nextSeq,
		digest:   c.Digest(),
	}
}

// Rollback restores a checkpoint taken earlier on this conversation.
func (c *Conversation) Rollback(cp Checkpoint) {
	if cp.logLen > len(c.log) {
		return
	}
	for i := cp.logLen; i < len(c.log); i++ {
		c.log[i] = Message{}
	}
	c.log = c.log[:cp.logLen]
	c.detached = cp.detached
	c.nextSeq = cp.nextSeq
	c.digest = cp.digest
	logging.HistoryDebug("Rolled back to %d messages", cp.logLen)
}

// Export returns the serializable state.
func (c *Conversation) Export() State {
	return State{
		Messages: c.Raw(),
		Digest:   c.Digest(),
		Detached: c.detached,
		NextSeq:  c.nextSeq,
	}
}

// Import replaces the conversation with a saved state.
func (c *Conversation) Import(s State) error {
	if err := Validate(s); err != nil {
		return err
	}
	next := s.NextSeq
	for _, m := range s.Messages {
		if m.Seq >= next {
			next = m.Seq + 1
		}
	}
	if next < 1 {
		next = 1
	}
	c.log = append([]Message(nil), s.Messages...)
	c.detached = s.Detached
	c.digest = nil
	if s.Digest != nil {
		d := *s.Digest
		c.digest = &d
	}
	c.nextSeq = next
	return nil
}

// Validate reports whether s can be imported.
func Validate(s State) error {
	if s.Detached < 0 || s.Detached > len(s.Messages) {
		return fmt.Errorf("invalid detached count %d for %d messages", s.Detached, len(s.Messages))
	}
	if s.Detached > 0 && s.Digest == nil {
		return fmt.Errorf("detached messages without a digest")
	}
	return nil
}

// Reset clears the conversation for a new session.
func (c *Conversation) Reset() {
	c.log = nil
	c.detached = 0
	c.digest = nil
	c.nextSeq = 1
}
