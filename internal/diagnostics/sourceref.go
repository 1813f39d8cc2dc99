package diagnostics

import "fmt"

// SourceRef is a span of source code attached to instructions. Breakpoint
// state lives on the ref itself and is owned by the runtime's debug service.
type SourceRef struct {
	SourceID int
	FromLine int
	FromCol  int
	ToLine   int
	ToCol    int

	// IsStepStop marks the first instruction of a statement.
	IsStepStop bool
	// CannotBreakpoint excludes synthetic refs (e.g. implicit returns).
	CannotBreakpoint bool
	// Breakpoint is set by the debug service.
	Breakpoint bool
}

// NewSourceRef creates a ref spanning (fromLine,fromCol)-(toLine,toCol).
func NewSourceRef(sourceID, fromLine, fromCol, toLine, toCol int, isStepStop bool) *SourceRef {
	return &SourceRef{
		SourceID:   sourceID,
		FromLine:   fromLine,
		FromCol:    fromCol,
		ToLine:     toLine,
		ToCol:      toCol,
		IsStepStop: isStepStop,
	}
}

// Location formats the span without a chunk name:
// (line,col), (line,col-col) or (line,col-line,col).
func (r *SourceRef) Location() string {
	if r == nil {
		return "(?)"
	}
	switch {
	case r.FromLine == r.ToLine && r.FromCol == r.ToCol:
		return fmt.Sprintf("(%d,%d)", r.FromLine, r.FromCol)
	case r.FromLine == r.ToLine:
		return fmt.Sprintf("(%d,%d-%d)", r.FromLine, r.FromCol, r.ToCol)
	default:
		return fmt.Sprintf("(%d,%d-%d,%d)", r.FromLine, r.FromCol, r.ToLine, r.ToCol)
	}
}

// FormatLocation prefixes Location with the chunk name.
func (r *SourceRef) FormatLocation(chunkName string) string {
	return chunkName + ":" + r.Location()
}

// IncludesLocation reports whether (line, col) falls inside the span.
func (r *SourceRef) IncludesLocation(sourceID, line, col int) bool {
	if r.SourceID != sourceID || line < r.FromLine || line > r.ToLine {
		return false
	}
	if r.FromLine == r.ToLine {
		return col >= r.FromCol && col <= r.ToCol
	}
	if line == r.FromLine {
		return col >= r.FromCol
	}
	if line == r.ToLine {
		return col <= r.ToCol
	}
	return true
}

// LocationDistance ranks how close the span is to (line, col); 0 is an
// exact hit, -1 is "different source or not on this line".
func (r *SourceRef) LocationDistance(sourceID, line, col int) int {
	if r.SourceID != sourceID {
		return -1
	}
	if r.IncludesLocation(sourceID, line, col) {
		return 0
	}
	if line < r.FromLine || line > r.ToLine {
		return -1
	}
	if line == r.FromLine && col < r.FromCol {
		return r.FromCol - col
	}
	if line == r.ToLine && col > r.ToCol {
		return col - r.ToCol
	}
	return 1
}

func (r *SourceRef) String() string {
	return fmt.Sprintf("[%d]%s", r.SourceID, r.Location())
}
