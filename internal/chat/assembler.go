package chat

import "strings"

const (
	analysisOpen  = "<analysis>"
	analysisClose = "</analysis>"
)

// DeltaKind routes assembled text to the answer or the reasoning channel.
type DeltaKind string

const (
	DeltaContent  DeltaKind = "content"
	DeltaAnalysis DeltaKind = "analysis"
)

// Delta is a run of streamed text routed to one channel.
type Delta struct {
	Kind DeltaKind
	Text string
}

// Assembler splits a streamed completion into answer content and
// analysis. The model wraps reasoning in <analysis>...</analysis> tags;
// tags can arrive split across arbitrary chunk boundaries, so a chunk
// ending mid-tag is held back until the next chunk resolves it.
type Assembler struct {
	pending    string
	inAnalysis bool
	content    strings.Builder
	analysis   strings.Builder
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed consumes one chunk and returns the deltas it completes.
// Consecutive deltas of the same kind are merged.
func (a *Assembler) Feed(chunk string) []Delta {
	a.pending += chunk
	var deltas []Delta

	for a.pending != "" {
		i := strings.IndexByte(a.pending, '<')
		if i == -1 {
			deltas = a.emit(deltas, a.pending)
			a.pending = ""
			break
		}
		if i > 0 {
			deltas = a.emit(deltas, a.pending[:i])
			a.pending = a.pending[i:]
		}

		tag := analysisOpen
		if a.inAnalysis {
			tag = analysisClose
		}

		switch {
		case strings.HasPrefix(a.pending, tag):
			a.inAnalysis = !a.inAnalysis
			a.pending = a.pending[len(tag):]
		case strings.HasPrefix(tag, a.pending):
			// Possible tag cut off at the chunk boundary; wait for more.
			return deltas
		default:
			// A '<' that is not the expected tag is ordinary text.
			deltas = a.emit(deltas, "<")
			a.pending = a.pending[1:]
		}
	}

	return deltas
}

// Finish flushes any held-back text and returns the final deltas. Text
// still pending inside an unclosed analysis block stays analysis.
func (a *Assembler) Finish() []Delta {
	var deltas []Delta
	if a.pending != "" {
		deltas = a.emit(nil, a.pending)
		a.pending = ""
	}
	return deltas
}

// Content returns all answer text assembled so far.
func (a *Assembler) Content() string {
	return a.content.String()
}

// Analysis returns all reasoning text assembled so far.
func (a *Assembler) Analysis() string {
	return a.analysis.String()
}

func (a *Assembler) emit(deltas []Delta, text string) []Delta {
	if text == "" {
		return deltas
	}

	kind := DeltaContent
	if a.inAnalysis {
		kind = DeltaAnalysis
		a.analysis.WriteString(text)
	} else {
		a.content.WriteString(text)
	}

	if n := len(deltas); n > 0 && deltas[n-1].Kind == kind {
		deltas[n-1].Text += text
		return deltas
	}
	return append(deltas, Delta{Kind: kind, Text: text})
}
