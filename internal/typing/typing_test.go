package typing

import (
	"context"
	"testing"
)

func TestResolveBackendNoneDisablesTyping(t *testing.T) {
	for _, name := range []string{"none", "disable", "NONE"} {
		backend, err := resolveBackend(name)
		if err != nil {
			t.Fatalf("resolveBackend(%q) error = %v", name, err)
		}
		if backend.Name() != "none" {
			t.Errorf("resolveBackend(%q).Name() = %q, want none", name, backend.Name())
		}
	}
}

func TestResolveBackendRejectsUnknownOverride(t *testing.T) {
	if _, err := resolveBackend("not-a-real-backend"); err == nil {
		t.Error("expected an error for an unknown backend override")
	}
}

func TestResolveBackendExplicitOverridesWin(t *testing.T) {
	backend, err := resolveBackend("wtype")
	if err != nil {
		t.Fatalf("resolveBackend(wtype) error = %v", err)
	}
	if backend.Name() != "wtype" {
		t.Errorf("Name() = %q, want wtype", backend.Name())
	}
}

func TestDetectSessionTypeIsCached(t *testing.T) {
	first := DetectSessionType()
	second := DetectSessionType()
	if first != second {
		t.Errorf("DetectSessionType() not stable across calls: %q vs %q", first, second)
	}
}

func TestNoneBackendAlwaysSucceeds(t *testing.T) {
	typer := &Typer{backend: noneBackend{}}
	ctx := context.Background()

	if res := typer.TypeText(ctx, "hello\nworld", ""); !res.OK {
		t.Errorf("TypeText result = %+v", res)
	}
	if res := typer.PressEnter(ctx, ""); !res.OK {
		t.Errorf("PressEnter result = %+v", res)
	}
	if res := typer.PressKeys(ctx, []KeyChord{{Key: "Tab"}}, ""); !res.OK {
		t.Errorf("PressKeys result = %+v", res)
	}
}

func TestPerformTypeSequenceRunsStepsInOrder(t *testing.T) {
	typer := &Typer{backend: noneBackend{}}
	steps := []SequenceStep{
		{Kind: "text", Text: "hello "},
		{Kind: "key", Key: KeyChord{Key: "Tab"}},
		{Kind: "text", Text: "world"},
	}
	if res := typer.PerformTypeSequence(context.Background(), steps, ""); !res.OK {
		t.Errorf("PerformTypeSequence result = %+v", res)
	}
}

func TestPerformTypeSequenceRejectsUnknownKind(t *testing.T) {
	typer := &Typer{backend: noneBackend{}}
	steps := []SequenceStep{{Kind: "bogus"}}
	res := typer.PerformTypeSequence(context.Background(), steps, "")
	if res.OK {
		t.Error("expected failure for unknown sequence step kind")
	}
}
