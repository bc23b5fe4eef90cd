package intent

import "testing"

func TestRouteEmptyTextIsUnknown(t *testing.T) {
	r := Route("", nil)
	if r.Mode != ModeUnknown || r.Reason != "empty" {
		t.Errorf("Route(\"\") = %+v", r)
	}
}

func TestRouteDictationWhenNoPrefixMatches(t *testing.T) {
	r := Route("  hello world  ", DefaultWakePrefixes)
	if r.Mode != ModeDictation {
		t.Fatalf("Mode = %q, want dictation", r.Mode)
	}
	if r.DictationText != "hello world" {
		t.Errorf("DictationText = %q, want trimmed", r.DictationText)
	}
}

func TestRouteCommandWithCustomWakePrefix(t *testing.T) {
	r := Route("Computer, open the browser", []string{"zwingli", "zwingly", "computer"})
	if r.Mode != ModeCommand {
		t.Fatalf("Mode = %q, want command", r.Mode)
	}
	if r.CommandText != "open the browser" {
		t.Errorf("CommandText = %q, want %q", r.CommandText, "open the browser")
	}
	if r.Reason != "prefix:computer" {
		t.Errorf("Reason = %q, want prefix:computer", r.Reason)
	}
}

func TestRouteRequiresSeparatorNotJustPrefixSubstring(t *testing.T) {
	r := Route("zwingling along nicely", DefaultWakePrefixes)
	if r.Mode != ModeDictation {
		t.Errorf("Mode = %q, want dictation (no separator after prefix)", r.Mode)
	}
}

func TestRouteExactPrefixMatchIsCommandWithEmptyRemainder(t *testing.T) {
	r := Route("zwingli", DefaultWakePrefixes)
	if r.Mode != ModeCommand || r.CommandText != "" {
		t.Errorf("Route(\"zwingli\") = %+v", r)
	}
}
