package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func withCapturedOutput(t *testing.T, fn func(buf *bytes.Buffer)) {
	t.Helper()
	var buf bytes.Buffer
	mu.Lock()
	saved := base
	base = zerolog.New(&buf)
	mu.Unlock()
	defer func() {
		mu.Lock()
		base = saved
		mu.Unlock()
	}()
	fn(&buf)
}

func TestSetComponentFilter_NoFilterAllowsEverything(t *testing.T) {
	SetComponentFilter("")
	withCapturedOutput(t, func(buf *bytes.Buffer) {
		InfoC("comp1", "msg1")
		if !strings.Contains(buf.String(), "msg1") {
			t.Error("expected msg1 to be logged")
		}
	})
}

func TestSetComponentFilter_SingleComponent(t *testing.T) {
	defer SetComponentFilter("")
	SetComponentFilter("comp1")
	withCapturedOutput(t, func(buf *bytes.Buffer) {
		InfoC("comp1", "msg2")
		InfoC("comp2", "msg3")

		out := buf.String()
		if !strings.Contains(out, "msg2") {
			t.Error("expected msg2 to be logged")
		}
		if strings.Contains(out, "msg3") {
			t.Error("expected msg3 not to be logged")
		}
	})
}

func TestSetComponentFilter_MultipleComponents(t *testing.T) {
	defer SetComponentFilter("")
	SetComponentFilter("comp1,comp2")
	withCapturedOutput(t, func(buf *bytes.Buffer) {
		InfoC("comp1", "msg4")
		InfoC("comp2", "msg5")
		InfoC("comp3", "msg6")

		out := buf.String()
		for _, want := range []string{"msg4", "msg5"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %s to be logged", want)
			}
		}
		if strings.Contains(out, "msg6") {
			t.Error("expected msg6 not to be logged")
		}
	})
}

func TestLevelFiltering(t *testing.T) {
	defer SetLevel(INFO)
	SetLevel(WARN)
	withCapturedOutput(t, func(buf *bytes.Buffer) {
		InfoC("comp", "should not appear")
		WarnC("comp", "should appear")

		out := buf.String()
		if strings.Contains(out, "should not appear") {
			t.Error("expected INFO level message to be filtered at WARN level")
		}
		if !strings.Contains(out, "should appear") {
			t.Error("expected WARN level message to be logged")
		}
	})
}
