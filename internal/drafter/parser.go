// internal/drafter/parser.go
package drafter

import "strings"

const (
	subjectMarker = "SUBJECT:"
	bodyMarker    = "BODY:"
)

// parseStage records which parsing pass produced a result.
type parseStage int

const (
	stageNone parseStage = iota
	stagePrimary
	stageSecondary
)

// parseLabeled extracts a subject and body from a reply written in the
// SUBJECT:/BODY: format. Either value may come back empty; the caller decides
// what to do about it.
func parseLabeled(raw string) (subject, body string, stage parseStage) {
	content := strings.TrimSpace(raw)

	subject, body, subjectFound, bodyFound := parseLines(content)
	if subjectFound && bodyFound {
		return subject, body, stagePrimary
	}

	// The markers may be mid-line or in another case.
	stage = stageNone
	if start := indexFold(content, subjectMarker, 0); start != -1 {
		start += len(subjectMarker)
		end := indexFold(content, bodyMarker, start)
		if end == -1 {
			end = strings.IndexByte(content[start:], '\n')
			if end == -1 {
				end = len(content)
			} else {
				end += start
			}
		}
		subject = strings.TrimSpace(content[start:end])
		stage = stageSecondary
	}
	if start := indexFold(content, bodyMarker, 0); start != -1 {
		body = strings.TrimSpace(content[start+len(bodyMarker):])
		stage = stageSecondary
	}
	return subject, body, stage
}

// parseLines is the strict pass: markers must start a line. Every non-empty
// line after BODY: joins the body except further SUBJECT: lines.
func parseLines(content string) (subject, body string, subjectFound, bodyFound bool) {
	lines := strings.Split(content, "\n")
	var bodyLines []string

	for i, line := range lines {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, subjectMarker) {
			subject = strings.TrimSpace(strings.TrimPrefix(line, subjectMarker))
			subjectFound = true
			continue
		}
		if !strings.HasPrefix(line, bodyMarker) {
			continue
		}

		bodyFound = true
		if first := strings.TrimSpace(strings.TrimPrefix(line, bodyMarker)); first != "" {
			bodyLines = append(bodyLines, first)
		}
		for _, next := range lines[i+1:] {
			next = strings.TrimSpace(next)
			if next != "" && !strings.HasPrefix(next, subjectMarker) {
				bodyLines = append(bodyLines, next)
			}
		}
		break
	}

	return subject, strings.Join(bodyLines, "\n"), subjectFound, bodyFound
}

// indexFold returns the index of the first ASCII case-insensitive match of
// marker in s at or after from, or -1.
func indexFold(s, marker string, from int) int {
	for i := from; i+len(marker) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(marker)], marker) {
			return i
		}
	}
	return -1
}
