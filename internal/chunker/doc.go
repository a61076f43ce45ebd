// Package chunker splits extracted document text into overlapping windows.
//
// Windows are measured in characters (runes), not bytes, so spans line up
// with what a reader sees regardless of encoding.
//
// # Basic Usage
//
//	c := chunker.New(chunker.Config{Size: 1200, Overlap: 200, HashContent: true})
//	chunks := c.Chunk("/docs/guide.md", text)
//	for _, ch := range chunks {
//	    fmt.Printf("%s [%d,%d)\n", ch.ID, ch.Span.Start, ch.Span.End)
//	}
//
// # Window Algorithm
//
// A window of Size runes starts at offset 0. When a window would overrun the
// end of the text it is clamped to the remainder. The next window starts
// Overlap runes before the previous window's end, but always at least one
// rune after the previous window's start, so splitting terminates even when
// Overlap >= Size. Splitting stops once a window reaches the end of the text.
//
// For Size 1200 and Overlap 200 over 3000 runes the spans are:
//
//	[0,1200) [1000,2200) [2000,3000)
//
// Empty text yields no chunks.
package chunker
