// Package captions parses the three caption payload shapes YouTube serves
// (srv1 XML, json3, and InnerTube get_transcript responses) into plain
// transcript text.
package captions

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"strings"
)

// timedTextDocument models the srv1/xml caption schema: a flat list of
// timed text nodes.
type timedTextDocument struct {
	XMLName xml.Name        `xml:"transcript"`
	Texts   []timedTextNode `xml:"text"`
}

type timedTextNode struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Body  string `xml:",chardata"`
}

// ParseTimedTextXML extracts plain transcript text from an srv1/xml caption
// document.
func ParseTimedTextXML(body []byte) (string, error) {
	var doc timedTextDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("parse timedtext xml: %w", err)
	}
	parts := make([]string, 0, len(doc.Texts))
	for _, node := range doc.Texts {
		text := normalizeSegment(node.Body)
		if text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("parse timedtext xml: no text nodes")
	}
	return strings.Join(parts, " "), nil
}

// json3Document models the fmt=json3 caption schema: events carrying utf8
// segments.
type json3Document struct {
	Events []struct {
		Segs []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// ParseJSON3 extracts plain transcript text from a fmt=json3 caption
// payload.
func ParseJSON3(body []byte) (string, error) {
	var doc json3Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("parse json3: %w", err)
	}
	var b strings.Builder
	for _, event := range doc.Events {
		for _, seg := range event.Segs {
			text := normalizeSegment(seg.UTF8)
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("parse json3: no segments")
	}
	return b.String(), nil
}

// innerTubeDocument models the get_transcript response: deeply nested
// renderer objects whose cue text lives in segment runs.
type innerTubeDocument struct {
	Actions []struct {
		UpdateEngagementPanelAction struct {
			Content struct {
				TranscriptRenderer struct {
					Content struct {
						TranscriptSearchPanelRenderer struct {
							Body struct {
								TranscriptSegmentListRenderer struct {
									InitialSegments []innerTubeSegment `json:"initialSegments"`
								} `json:"transcriptSegmentListRenderer"`
							} `json:"body"`
						} `json:"transcriptSearchPanelRenderer"`
					} `json:"content"`
				} `json:"transcriptRenderer"`
			} `json:"content"`
		} `json:"updateEngagementPanelAction"`
	} `json:"actions"`
}

type innerTubeSegment struct {
	TranscriptSegmentRenderer struct {
		Snippet struct {
			Runs []struct {
				Text string `json:"text"`
			} `json:"runs"`
		} `json:"snippet"`
	} `json:"transcriptSegmentRenderer"`
}

// ParseInnerTube extracts plain transcript text from a get_transcript API
// response body.
func ParseInnerTube(body []byte) (string, error) {
	var doc innerTubeDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("parse innertube: %w", err)
	}
	var b strings.Builder
	for _, action := range doc.Actions {
		segments := action.UpdateEngagementPanelAction.Content.TranscriptRenderer.Content.TranscriptSearchPanelRenderer.Body.TranscriptSegmentListRenderer.InitialSegments
		for _, segment := range segments {
			for _, run := range segment.TranscriptSegmentRenderer.Snippet.Runs {
				text := normalizeSegment(run.Text)
				if text == "" {
					continue
				}
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
	}
	if b.Len() == 0 {
		return "", errors.New("parse innertube: no transcript segments")
	}
	return b.String(), nil
}

func normalizeSegment(text string) string {
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.Join(strings.Fields(text), " ")
}
