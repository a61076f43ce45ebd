// Package extract turns files on disk into plain text.
//
// Extraction never signals "nothing to index" through an error. Every call
// returns a Result whose Reason says what happened:
//
//	res := ex.Extract(path)
//	switch res.Reason {
//	case extract.ReasonOK:
//	    // index res.Text
//	case extract.ReasonEmpty:
//	    // file has no text; remove it from the index
//	case extract.ReasonUnreadable, extract.ReasonUnsupported:
//	    // log res.Err and skip
//	}
//
// Supported formats are plain text (.txt, .md, .log), CSV (each row joined
// by single spaces, one row per line) and PDF (page texts joined by
// newlines).
package extract
