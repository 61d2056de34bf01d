package dashboard

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"churnboard/pkg/domain"
)

// FallbackAnswer is shown when the assistant cannot be reached.
const FallbackAnswer = "Sorry, I couldn't get an answer right now. Please try again."

// Asker sends a question scoped to a record snapshot.
type Asker interface {
	Ask(ctx context.Context, question string, snapshot []domain.Record) (string, error)
}

// Turn is the single question/answer pair on display.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Pending  bool   `json:"pending"`
	Failed   bool   `json:"failed,omitempty"`
}

// ChatSession allows one outstanding question at a time and keeps only the
// latest turn.
type ChatSession struct {
	mu      sync.Mutex
	turn    *Turn
	gen     uint64
	asker   Asker
	notices *Notices
	logger  *slog.Logger
}

func NewChatSession(asker Asker, notices *Notices, logger *slog.Logger) *ChatSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatSession{asker: asker, notices: notices, logger: logger}
}

// Ask sends question with a private copy of snapshot and waits for the
// answer. Blank questions and questions asked while another is pending are
// rejected without effect.
func (c *ChatSession) Ask(ctx context.Context, question string, snapshot []domain.Record) (string, error) {
	gen, err := c.begin(question)
	if err != nil {
		return "", err
	}
	return c.run(ctx, gen, question, domain.CloneRecords(snapshot))
}

// Submit is Ask without waiting: it returns once the question is accepted
// and the answer lands in Current. The request outlives ctx cancellation.
func (c *ChatSession) Submit(ctx context.Context, question string, snapshot []domain.Record) error {
	gen, err := c.begin(question)
	if err != nil {
		return err
	}
	snap := domain.CloneRecords(snapshot)
	go func() {
		_, _ = c.run(context.WithoutCancel(ctx), gen, question, snap)
	}()
	return nil
}

func (c *ChatSession) begin(question string) (uint64, error) {
	if strings.TrimSpace(question) == "" {
		return 0, ErrEmptyQuestion
	}
	gen, ok := c.start(question)
	if !ok {
		return 0, ErrChatPending
	}
	return gen, nil
}

func (c *ChatSession) run(ctx context.Context, gen uint64, question string, snapshot []domain.Record) (string, error) {
	answer, err := c.asker.Ask(ctx, question, snapshot)

	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.gen == gen
	if err != nil {
		cerr := &ChatError{Cause: err}
		if current {
			c.turn = &Turn{Question: question, Answer: FallbackAnswer, Failed: true}
			c.notices.Push(NoticeChat, cerr.Error())
		}
		c.logger.WarnContext(ctx, "chat failed", "err", err, "discarded", !current)
		return FallbackAnswer, cerr
	}
	if current {
		c.turn = &Turn{Question: question, Answer: answer}
	} else {
		c.logger.DebugContext(ctx, "chat answer arrived after reset, dropped")
	}
	return answer, nil
}

func (c *ChatSession) start(question string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn != nil && c.turn.Pending {
		return 0, false
	}
	c.gen++
	c.turn = &Turn{Question: question, Pending: true}
	return c.gen, true
}

// Current returns the turn on display.
func (c *ChatSession) Current() (Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		return Turn{}, false
	}
	return *c.turn, true
}

// Pending reports whether a question is outstanding.
func (c *ChatSession) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn != nil && c.turn.Pending
}

// Reset discards the displayed turn. An outstanding request is not aborted;
// its answer is ignored when it arrives.
func (c *ChatSession) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.turn = nil
}
