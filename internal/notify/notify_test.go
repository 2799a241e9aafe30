package notify

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Disabled(t *testing.T) {
	assert.IsType(t, Nop{}, New(false, nil))
	assert.NoError(t, Nop{}.Notify("a", "b"))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	n := Log{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	assert.NoError(t, n.Notify("ghostkeys: passthrough", "Keys pass through unchanged"))
	assert.Contains(t, buf.String(), "ghostkeys: passthrough")
}

func TestRecorder(t *testing.T) {
	var r Recorder
	_, ok := r.Last()
	assert.False(t, ok)

	assert.NoError(t, r.Notify("one", "1"))
	assert.NoError(t, r.Notify("two", "2"))
	last, ok := r.Last()
	assert.True(t, ok)
	assert.Equal(t, Message{Title: "two", Body: "2"}, last)
	assert.Len(t, r.Messages, 2)
}
