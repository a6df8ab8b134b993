package captions

import (
	"strings"
	"testing"
)

func TestParseTimedTextXML(t *testing.T) {
	t.Parallel()

	body := `<?xml version="1.0" encoding="utf-8"?>
<transcript>
  <text start="0" dur="2.1">Hello &amp;amp; welcome</text>
  <text start="2.1" dur="1.4">to the
show</text>
  <text start="3.5" dur="0.5"> </text>
</transcript>`
	got, err := ParseTimedTextXML([]byte(body))
	if err != nil {
		t.Fatalf("ParseTimedTextXML: %v", err)
	}
	if got != "Hello & welcome to the show" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestParseTimedTextXMLRejectsEmptyDocument(t *testing.T) {
	t.Parallel()

	if _, err := ParseTimedTextXML([]byte(`<transcript></transcript>`)); err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestParseJSON3(t *testing.T) {
	t.Parallel()

	body := `{"events":[
		{"segs":[{"utf8":"Hello"},{"utf8":" world"}]},
		{"segs":[{"utf8":"\n"}]},
		{"segs":[{"utf8":"again"}]}
	]}`
	got, err := ParseJSON3([]byte(body))
	if err != nil {
		t.Fatalf("ParseJSON3: %v", err)
	}
	if got != "Hello world again" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestParseInnerTube(t *testing.T) {
	t.Parallel()

	body := `{"actions":[{"updateEngagementPanelAction":{"content":{"transcriptRenderer":{"content":{"transcriptSearchPanelRenderer":{"body":{"transcriptSegmentListRenderer":{"initialSegments":[
		{"transcriptSegmentRenderer":{"snippet":{"runs":[{"text":"First cue"}]}}},
		{"transcriptSegmentRenderer":{"snippet":{"runs":[{"text":"second"},{"text":" cue"}]}}}
	]}}}}}}}}]}`
	got, err := ParseInnerTube([]byte(body))
	if err != nil {
		t.Fatalf("ParseInnerTube: %v", err)
	}
	if got != "First cue second cue" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestParseInnerTubeRejectsUnrelatedJSON(t *testing.T) {
	t.Parallel()

	_, err := ParseInnerTube([]byte(`{"responseContext":{}}`))
	if err == nil || !strings.Contains(err.Error(), "no transcript segments") {
		t.Fatalf("expected no-segments error, got %v", err)
	}
}
