package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnboard/pkg/domain"
)

func TestAskRejectsBlankQuestion(t *testing.T) {
	backend := newFakeBackend()
	called := false
	backend.askFn = func(context.Context, string, []domain.Record) (string, error) {
		called = true
		return "", nil
	}
	c := New(backend, Config{})
	_, err := c.Ask(context.Background(), "   \n")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.False(t, called)
	_, ok := c.Chat.Current()
	assert.False(t, ok)
}

func TestAskRejectsWhilePending(t *testing.T) {
	backend := newFakeBackend()
	release := make(chan struct{})
	backend.askFn = func(context.Context, string, []domain.Record) (string, error) {
		<-release
		return "42", nil
	}
	c := New(backend, Config{})
	require.NoError(t, c.AskAsync(context.Background(), "how many?"))
	assert.True(t, c.Chat.Pending())

	_, err := c.Ask(context.Background(), "another")
	assert.ErrorIs(t, err, ErrChatPending)
	turn, _ := c.Chat.Current()
	assert.Equal(t, "how many?", turn.Question)

	close(release)
	require.Eventually(t, func() bool { return !c.Chat.Pending() }, time.Second, 5*time.Millisecond)
	turn, _ = c.Chat.Current()
	assert.Equal(t, Turn{Question: "how many?", Answer: "42"}, turn)
}

func TestAskSendsSnapshotCopy(t *testing.T) {
	backend := newFakeBackend(sampleRecords()...)
	var got []domain.Record
	backend.askFn = func(_ context.Context, _ string, snapshot []domain.Record) (string, error) {
		got = snapshot
		return "five", nil
	}
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))

	answer, err := c.Ask(ctx, "how many employees?")
	require.NoError(t, err)
	assert.Equal(t, "five", answer)
	require.Len(t, got, 5)

	*got[0].Department = "mutated"
	stored, _ := c.Store.Get(got[0].ID)
	assert.Equal(t, "Engineering", *stored.Department)
}

func TestAskFailureShowsFallback(t *testing.T) {
	backend := newFakeBackend()
	backend.askFn = func(context.Context, string, []domain.Record) (string, error) {
		return "", errRemote
	}
	c := New(backend, Config{})
	answer, err := c.Ask(context.Background(), "why?")
	var cerr *ChatError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, errRemote)
	assert.Equal(t, FallbackAnswer, answer)

	turn, ok := c.Chat.Current()
	require.True(t, ok)
	assert.True(t, turn.Failed)
	assert.False(t, turn.Pending)
	assert.Equal(t, FallbackAnswer, turn.Answer)
	assert.Equal(t, NoticeChat, c.Notices.Recent()[0].Kind)

	_, err = c.Ask(context.Background(), "again?")
	assert.ErrorIs(t, err, errRemote, "a failed turn does not block the next question")
}

func TestResetDropsLateAnswer(t *testing.T) {
	backend := newFakeBackend()
	release := make(chan struct{})
	done := make(chan struct{})
	backend.askFn = func(_ context.Context, q string, _ []domain.Record) (string, error) {
		if q == "slow" {
			defer close(done)
			<-release
			return "late", nil
		}
		return "fresh", nil
	}
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.AskAsync(ctx, "slow"))
	c.Chat.Reset()

	_, ok := c.Chat.Current()
	assert.False(t, ok)
	assert.False(t, c.Chat.Pending())

	answer, err := c.Ask(ctx, "quick")
	require.NoError(t, err)
	assert.Equal(t, "fresh", answer)

	close(release)
	<-done
	assert.Never(t, func() bool {
		turn, _ := c.Chat.Current()
		return turn.Answer == "late"
	}, 50*time.Millisecond, 5*time.Millisecond)
	turn, _ := c.Chat.Current()
	assert.Equal(t, "quick", turn.Question)
}
