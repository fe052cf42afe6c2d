package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubNotifier struct {
	err  error
	sent []string
}

func (s *stubNotifier) SendText(text string) error {
	s.sent = append(s.sent, text)
	return s.err
}

func TestMultiFansOutToEverySink(t *testing.T) {
	a := &stubNotifier{}
	b := &stubNotifier{err: errors.New("down")}
	c := &stubNotifier{}

	err := Multi{a, nil, b, c}.SendText("hi")
	assert.Error(t, err)
	assert.Equal(t, []string{"hi"}, a.sent)
	assert.Equal(t, []string{"hi"}, b.sent)
	assert.Equal(t, []string{"hi"}, c.sent, "a failing sink must not block later sinks")
}

func TestMultiFirstErrorWins(t *testing.T) {
	first := errors.New("first")
	err := Multi{
		&stubNotifier{err: first},
		&stubNotifier{err: errors.New("second")},
	}.SendText("x")
	assert.ErrorIs(t, err, first)
}

func TestTelegramUnconfigured(t *testing.T) {
	err := (&Telegram{}).SendText("x")
	assert.Error(t, err)
}
