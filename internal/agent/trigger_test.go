package agent

import (
	"context"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrigger(t *testing.T) {
	cases := map[string]Trigger{
		"f5":                 TriggerTypePrincipal,
		"F5":                 TriggerTypePrincipal,
		"type-principal":     TriggerTypePrincipal,
		" f6 ":               TriggerTypeSecretRecord,
		"type-secret-record": TriggerTypeSecretRecord,
		"F7":                 TriggerStopRecording,
		"stop-recording":     TriggerStopRecording,
	}
	for in, want := range cases {
		got, ok := ParseTrigger(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "f8", "record"} {
		_, ok := ParseTrigger(in)
		assert.False(t, ok, in)
	}
}

func TestReaderSourceEmitsInOrder(t *testing.T) {
	src := NewReaderSource(strings.NewReader("f5\n# comment\n\nbogus\nf6\nstop-recording\n"), quietLogger())
	out := make(chan Trigger, 8)

	require.NoError(t, src.Run(context.Background(), out))
	close(out)

	var got []Trigger
	for t := range out {
		got = append(got, t)
	}
	assert.Equal(t, []Trigger{TriggerTypePrincipal, TriggerTypeSecretRecord, TriggerStopRecording}, got)
}

func TestReaderSourceStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	src := NewReaderSource(pr, quietLogger())
	out := make(chan Trigger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	go func() { _, _ = io.WriteString(pw, "f5\n") }()
	assert.Equal(t, TriggerTypePrincipal, <-out)

	// Blocked on delivery: cancel releases it.
	go func() { _, _ = io.WriteString(pw, "f7\n") }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	pr.CloseWithError(io.EOF)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop")
	}
}

func TestFIFOSourceMissingPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("named pipes are unix only")
	}
	src := NewFIFOSource(t.TempDir()+"/missing/fifo", quietLogger())
	assert.Error(t, src.Run(context.Background(), make(chan Trigger)))
}
