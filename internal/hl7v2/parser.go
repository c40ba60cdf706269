package hl7v2

import (
	"fmt"
	"strings"
)

// Parse structurally parses an HL7 v2.x message in ER7 (pipe-delimited) form.
// Line endings are normalized to the segment terminator first, so messages
// pasted with \n or \r\n parse identically to wire-format messages.
func Parse(text string) (*Message, error) {
	content := strings.ReplaceAll(text, "\r\n", SegmentTerminator)
	content = strings.ReplaceAll(content, "\n", SegmentTerminator)
	content = strings.Trim(content, SegmentTerminator+" ")

	if content == "" {
		return nil, fmt.Errorf("empty message")
	}

	lines := strings.Split(content, SegmentTerminator)

	first := strings.TrimSpace(lines[0])
	if !strings.HasPrefix(first, "MSH") {
		return nil, fmt.Errorf("message must start with MSH segment")
	}
	if len(first) < 8 {
		return nil, fmt.Errorf("invalid MSH segment: too short")
	}

	msg := &Message{}
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seg, err := parseSegment(line)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	return msg, nil
}

func parseSegment(line string) (*Segment, error) {
	if len(line) < 3 {
		return nil, fmt.Errorf("segment too short: %q", line)
	}

	fields := strings.Split(line, FieldSeparator)
	name := fields[0]
	if len(name) != 3 {
		return nil, fmt.Errorf("invalid segment name: %q", name)
	}

	return &Segment{Name: name, Fields: fields}, nil
}
