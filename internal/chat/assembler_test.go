package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// run feeds the chunks and returns the flattened per-channel output.
func run(chunks ...string) (content, analysis string) {
	a := NewAssembler()
	for _, c := range chunks {
		a.Feed(c)
	}
	a.Finish()
	return a.Content(), a.Analysis()
}

func TestAssembler_PlainText(t *testing.T) {
	content, analysis := run("Use a before-insert trigger.")
	assert.Equal(t, "Use a before-insert trigger.", content)
	assert.Empty(t, analysis)
}

func TestAssembler_AnalysisBlock(t *testing.T) {
	content, analysis := run("<analysis>user asks about triggers</analysis>Use a trigger.")
	assert.Equal(t, "Use a trigger.", content)
	assert.Equal(t, "user asks about triggers", analysis)
}

func TestAssembler_TagSplitAcrossChunks(t *testing.T) {
	content, analysis := run("<anal", "ysis>thinking</anal", "ysis>answer")
	assert.Equal(t, "answer", content)
	assert.Equal(t, "thinking", analysis)
}

func TestAssembler_TagSplitBytewise(t *testing.T) {
	full := "<analysis>deep thought</analysis>the answer"
	a := NewAssembler()
	for i := 0; i < len(full); i++ {
		a.Feed(full[i : i+1])
	}
	a.Finish()
	assert.Equal(t, "the answer", a.Content())
	assert.Equal(t, "deep thought", a.Analysis())
}

func TestAssembler_UnclosedAnalysisStaysAnalysis(t *testing.T) {
	content, analysis := run("<analysis>never closed")
	assert.Empty(t, content)
	assert.Equal(t, "never closed", analysis)
}

func TestAssembler_PendingPartialTagFlushedAtEOF(t *testing.T) {
	// The stream ends mid-tag: the held-back bytes are ordinary text.
	content, analysis := run("answer <anal")
	assert.Equal(t, "answer <anal", content)
	assert.Empty(t, analysis)
}

func TestAssembler_AngleBracketInText(t *testing.T) {
	content, analysis := run("List<Account> accs = ", "new List<Account>();")
	assert.Equal(t, "List<Account> accs = new List<Account>();", content)
	assert.Empty(t, analysis)
}

func TestAssembler_CloseTagOnlyInsideAnalysis(t *testing.T) {
	// A close tag outside analysis is not the expected tag, so it is text.
	content, analysis := run("</analysis>hello")
	assert.Equal(t, "</analysis>hello", content)
	assert.Empty(t, analysis)
}

func TestAssembler_MultipleBlocks(t *testing.T) {
	content, analysis := run(
		"<analysis>first</analysis>part one ",
		"<analysis>second</analysis>part two",
	)
	assert.Equal(t, "part one part two", content)
	assert.Equal(t, "firstsecond", analysis)
}

func TestAssembler_DeltaKinds(t *testing.T) {
	a := NewAssembler()
	deltas := a.Feed("<analysis>x</analysis>y")

	assert.Equal(t, []Delta{
		{Kind: DeltaAnalysis, Text: "x"},
		{Kind: DeltaContent, Text: "y"},
	}, deltas)
}

func TestAssembler_MergesConsecutiveDeltas(t *testing.T) {
	a := NewAssembler()
	deltas := a.Feed("abc<def")

	// "<def" could not start a tag, so it folds back into one content delta.
	assert.Equal(t, []Delta{{Kind: DeltaContent, Text: "abc<def"}}, deltas)
}
