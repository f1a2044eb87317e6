package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestCanonicalTraceStability_ByteForByte(t *testing.T) {
	trace1 := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TraceEvent{
			{Kind: EventTaskExecuted, TaskID: "NotoColorEmoji.tmpl.ttf", Reason: "newer-dependency"},
			{Kind: EventTaskUpToDate, TaskID: "png/64/emoji_u1F600.png"},
			{Kind: EventTaskSkipped, TaskID: "NotoColorEmoji.ttf", CauseTaskID: "NotoColorEmoji.tmpl.ttf"},
		},
	}
	trace2 := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TraceEvent{
			{Kind: EventTaskSkipped, TaskID: "NotoColorEmoji.ttf", CauseTaskID: "NotoColorEmoji.tmpl.ttf"},
			{Kind: EventTaskUpToDate, TaskID: "png/64/emoji_u1F600.png"},
			{Kind: EventTaskExecuted, TaskID: "NotoColorEmoji.tmpl.ttf", Reason: "newer-dependency"},
		},
	}

	b1, err := trace1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := trace2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", string(b1), string(b2))
	}
}

func TestCanonicalOrdering_TaskThenKind(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{
			{Kind: EventTaskTargetRemoved, TaskID: "b.ttf", Artifacts: []string{"b.ttf"}},
			{Kind: EventTaskFailed, TaskID: "b.ttf", Reason: "exit 1"},
			{Kind: EventTaskExecuted, TaskID: "a.ttx", Reason: "missing"},
		},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"g","events":[` +
		`{"kind":"TaskExecuted","taskId":"a.ttx","reason":"missing"},` +
		`{"kind":"TaskFailed","taskId":"b.ttf","reason":"exit 1"},` +
		`{"kind":"TaskTargetRemoved","taskId":"b.ttf","artifacts":["b.ttf"]}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, string(b))
	}
}

func TestHash_IgnoresInsertionOrder(t *testing.T) {
	tr1 := ExecutionTrace{GraphHash: "g", Events: []TraceEvent{
		{Kind: EventTaskExecuted, TaskID: "b", Reason: "missing"},
		{Kind: EventTaskUpToDate, TaskID: "a"},
	}}
	tr2 := ExecutionTrace{GraphHash: "g", Events: []TraceEvent{
		{Kind: EventTaskUpToDate, TaskID: "a"},
		{Kind: EventTaskExecuted, TaskID: "b", Reason: "missing"},
	}}

	h1, err := tr1.Hash()
	if err != nil {
		t.Fatalf("hash (1): %v", err)
	}
	h2, err := tr2.Hash()
	if err != nil {
		t.Fatalf("hash (2): %v", err)
	}
	if h1 != h2 || h1 == "" {
		t.Fatalf("expected equal non-empty hash, got %q / %q", h1, h2)
	}
}

func TestEventArtifacts_OmittedWhenEmpty(t *testing.T) {
	tr := ExecutionTrace{GraphHash: "g", Events: []TraceEvent{{Kind: EventTaskUpToDate, TaskID: "a", Artifacts: []string{}}}}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	if expected := `{"graphHash":"g","events":[{"kind":"TaskUpToDate","taskId":"a"}]}`; string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, string(b))
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]ExecutionTrace{
		"no graph hash": {Events: []TraceEvent{{Kind: EventTaskExecuted, TaskID: "a"}}},
		"no task id":    {GraphHash: "g", Events: []TraceEvent{{Kind: EventTaskExecuted}}},
		"unknown kind":  {GraphHash: "g", Events: []TraceEvent{{Kind: "TaskCached", TaskID: "a"}}},
		"empty path":    {GraphHash: "g", Events: []TraceEvent{{Kind: EventTaskTargetRemoved, TaskID: "a", Artifacts: []string{""}}}},
	}
	for name, tr := range cases {
		t.Run(name, func(t *testing.T) {
			if err := tr.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRecorder_ConcurrentAndWriteFile(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for _, id := range []string{"d", "c", "b", "a"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			SafeRecord(r, TraceEvent{Kind: EventTaskExecuted, TaskID: id, Reason: "missing"})
		}(id)
	}
	wg.Wait()

	if got := len(r.Snapshot()); got != 4 {
		t.Fatalf("expected 4 events, got %d", got)
	}

	path := filepath.Join(t.TempDir(), "trace.json")
	hash, err := r.WriteFile(path, "g")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := r.Trace("g").CanonicalJSON()
	if !bytes.Equal(bytes.TrimSuffix(data, []byte("\n")), want) {
		t.Fatalf("file content mismatch\nfile=%s\nwant=%s", data, want)
	}
	if hash != ComputeTraceHash(want) {
		t.Fatalf("hash mismatch")
	}
}

type panickySink struct{}

func (panickySink) Record(TraceEvent) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	SafeRecord(panickySink{}, TraceEvent{Kind: EventTaskExecuted, TaskID: "a"})
	SafeRecord(nil, TraceEvent{Kind: EventTaskExecuted, TaskID: "a"})
}
