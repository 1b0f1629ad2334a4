package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/logger"
)

func TestSpanTree(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx, root := Start(ctx, "fit")
	childCtx, load := Start(ctx, "load corpus")
	load.SetAttr("documents", 3)
	load.End(nil)
	_, nested := Start(childCtx, "read file")
	nested.End(nil)
	_, save := Start(ctx, "save")
	save.End(errors.New("disk full"))
	root.End(nil)

	if root.TraceID != "req-1" || save.TraceID != "req-1" || nested.TraceID != "req-1" {
		t.Errorf("trace ids: %q %q %q", root.TraceID, save.TraceID, nested.TraceID)
	}
	if got := root.Children(); len(got) != 2 || got[0] != load || got[1] != save {
		t.Fatalf("children = %v", got)
	}

	var buf bytes.Buffer
	root.Log(ctx, slog.New(slog.NewJSONHandler(&buf, nil)), slog.LevelInfo)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("logged %d spans, want 4:\n%s", len(lines), buf.String())
	}
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[3]), &last); err != nil {
		t.Fatal(err)
	}
	if last["span"] != "save" || last["error"] != "disk full" || last["depth"] != float64(1) {
		t.Errorf("last span = %v", last)
	}
	var second map[string]any
	json.Unmarshal([]byte(lines[1]), &second)
	if second["documents"] != float64(3) {
		t.Errorf("attr missing: %v", second)
	}
}

func TestStart_GeneratesTraceID(t *testing.T) {
	_, a := Start(context.Background(), "a")
	_, b := Start(context.Background(), "b")
	if len(a.TraceID) != 16 || a.TraceID == b.TraceID {
		t.Errorf("trace ids %q %q", a.TraceID, b.TraceID)
	}
	if FromContext(context.Background()) != nil {
		t.Error("empty context should carry no span")
	}
}
