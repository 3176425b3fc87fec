package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"selective-alpha/internal/pipeline"
)

func TestRunPrintsResult(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"-symbols", "aaa, bbb", "-days", "250", "-pretty=false", "-log-level", "error"}, &out, &errOut)
	if err != nil {
		t.Fatalf("unexpected error: %v (stderr: %s)", err, errOut.String())
	}

	var res pipeline.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(res.Symbols) != 2 || res.Symbols[0] != "AAA" || res.Symbols[1] != "BBB" {
		t.Fatalf("unexpected symbols %v", res.Symbols)
	}
	if res.Tau <= 0 || res.Tau > 1 {
		t.Fatalf("tau out of range: %v", res.Tau)
	}
	if len(res.Decisions) != 2 {
		t.Fatalf("expected a decision per instrument, got %d", len(res.Decisions))
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), []string{"-eps", "2"}, &out, &errOut); err == nil {
		t.Fatal("expected invalid eps to fail")
	}
	if err := run(context.Background(), []string{"-symbols", " , "}, &out, &errOut); err == nil {
		t.Fatal("expected no instruments to fail")
	}
	if err := run(context.Background(), []string{"-unknown"}, &out, &errOut); err == nil {
		t.Fatal("expected flag error")
	}
}
