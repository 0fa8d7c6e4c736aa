package events

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/kudosync/internal/fault"
)

func TestMulti_FansOutInOrder(t *testing.T) {
	var a, b Recorder
	var order []string
	n := Multi(&a, nil, NotifierFunc(func(Event) { order = append(order, "func") }), &b)

	n.Notify(Event{Kind: KudosSent, Flow: "f1"})
	n.Notify(Event{Kind: KudosFailed, Flow: "f2"})

	assert.Equal(t, []Kind{KudosSent, KudosFailed}, a.Kinds())
	assert.Equal(t, a.Events(), b.Events())
	assert.Equal(t, []string{"func", "func"}, order)
	assert.Len(t, a.ForFlow("f2"), 1)
	assert.Empty(t, a.ForFlow("nope"))
}

func TestKind_Failure(t *testing.T) {
	assert.True(t, KudosFailed.Failure())
	assert.True(t, RewardFailed.Failure())
	assert.True(t, SessionExpired.Failure())
	assert.False(t, KudosSent.Failure())
	assert.False(t, SyncCompleted.Failure())
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	n := LogNotifier{Logger: logger}

	n.Notify(Event{Kind: KudosSent, Flow: "f1", Subject: "7", Amount: 20})
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "event=kudos-sent")
	assert.Contains(t, buf.String(), "amount=20")

	buf.Reset()
	n.Notify(Event{Kind: RewardFailed, Flow: "f2", Err: fault.Unreachable("redeem", errors.New("dial tcp: refused"))})
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "kind=UNREACHABLE")
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Notify(Event{Kind: SyncCompleted}) })
}
