package core

import (
	"testing"
	"time"

	"github.com/vovakirdan/flopchat-server/internal/proto"
)

func mustFrame(t *testing.T, ch <-chan *proto.Frame, frameType string) *proto.Frame {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-ch:
			if f != nil && f.Type == frameType {
				return f
			}
		case <-deadline:
			t.Fatalf("expected frame type %q not received", frameType)
			return nil
		}
	}
}

func mustNoFrame(t *testing.T, ch <-chan *proto.Frame) {
	t.Helper()

	select {
	case f := <-ch:
		t.Fatalf("unexpected frame: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}
