package abtest

import "strings"

// Direction classifies one judge verdict line.
type Direction string

const (
	DirectionUp      Direction = "up"      // Treatment better on this dimension
	DirectionDown    Direction = "down"    // Baseline better
	DirectionNeutral Direction = "neutral" // No meaningful difference
	DirectionNone    Direction = "none"    // No recognized glyph; kept verbatim
)

// Line is one parsed judge verdict line.
type Line struct {
	Direction Direction `yaml:"direction"`
	Text      string    `yaml:"text"`
}

const recommendationsMarker = "## recommendations"

// ParseJudgeOutput parses the judge's line-oriented verdict. Each line may
// start (after an optional markdown bullet) with a directional glyph;
// lines without one are retained with direction none so malformed output
// degrades gracefully instead of disappearing. An optional section headed
// by "## Recommendations" is returned as free text.
func ParseJudgeOutput(text string) ([]Line, string) {
	var lines []Line
	var rec []string
	inRecommendations := false

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		if !inRecommendations && strings.HasPrefix(strings.ToLower(line), recommendationsMarker) {
			inRecommendations = true
			continue
		}
		if inRecommendations {
			rec = append(rec, raw)
			continue
		}
		if line == "" {
			continue
		}

		lines = append(lines, parseLine(line))
	}

	return lines, strings.TrimSpace(strings.Join(rec, "\n"))
}

func parseLine(line string) Line {
	body := stripBullet(line)

	for glyph, dir := range map[string]Direction{
		"↑": DirectionUp,
		"↓": DirectionDown,
		"→": DirectionNeutral,
	} {
		if strings.HasPrefix(body, glyph) {
			return Line{
				Direction: dir,
				Text:      strings.TrimSpace(strings.TrimPrefix(body, glyph)),
			}
		}
	}

	// No recognized glyph: keep the original line, bullet and all.
	return Line{Direction: DirectionNone, Text: line}
}

func stripBullet(line string) string {
	for _, marker := range []string{"- ", "* "} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker))
		}
	}
	return line
}
