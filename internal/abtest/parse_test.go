package abtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJudgeOutput(t *testing.T) {
	output := `- ↑ clearer structure in the final answer
- ↓ slower to reach the main point
* → comparable factual accuracy

↑ unbulleted improvement line
`
	lines, rec := ParseJudgeOutput(output)
	require.Len(t, lines, 4)

	assert.Equal(t, Line{Direction: DirectionUp, Text: "clearer structure in the final answer"}, lines[0])
	assert.Equal(t, Line{Direction: DirectionDown, Text: "slower to reach the main point"}, lines[1])
	assert.Equal(t, Line{Direction: DirectionNeutral, Text: "comparable factual accuracy"}, lines[2])
	assert.Equal(t, Line{Direction: DirectionUp, Text: "unbulleted improvement line"}, lines[3])
	assert.Empty(t, rec)
}

func TestParseJudgeOutputKeepsUnglyphedLines(t *testing.T) {
	lines, _ := ParseJudgeOutput("- overall the treatment felt stronger")
	require.Len(t, lines, 1)
	assert.Equal(t, DirectionNone, lines[0].Direction)
	// The original line survives verbatim, bullet included.
	assert.Equal(t, "- overall the treatment felt stronger", lines[0].Text)
}

func TestParseJudgeOutputRecommendations(t *testing.T) {
	output := `- ↑ better coverage

## Recommendations
Tighten the intro section.
Add a worked example.
`
	lines, rec := ParseJudgeOutput(output)
	require.Len(t, lines, 1)
	assert.Equal(t, "Tighten the intro section.\nAdd a worked example.", rec)
}

func TestParseJudgeOutputRecommendationsCaseInsensitive(t *testing.T) {
	_, rec := ParseJudgeOutput("## recommendations\nlower-case heading still counts")
	assert.Equal(t, "lower-case heading still counts", rec)
}

func TestParseJudgeOutputEmpty(t *testing.T) {
	lines, rec := ParseJudgeOutput("")
	assert.Empty(t, lines)
	assert.Empty(t, rec)
}
