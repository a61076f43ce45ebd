package config

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Report is the outcome of Check
type Report struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the configuration has no errors
func (r Report) OK() bool {
	return len(r.Errors) == 0
}

// Check validates settings the way `ragsync validate` reports them.
// In strict mode every warning is repeated as an error.
func Check(s *Settings, strict bool) Report {
	var r Report
	for _, err := range validationErrors(s) {
		r.Errors = append(r.Errors, err.Error())
	}

	ports := map[string]int{
		"search.port": s.Search.Port,
		"proxy.port":  s.Proxy.Port,
	}
	seen := make(map[int]string)
	for _, name := range []string{"search.port", "proxy.port"} {
		port := ports[name]
		switch {
		case port < 1 || port > 65535:
			r.Errors = append(r.Errors, fmt.Sprintf("%s must be between 1 and 65535, got %d", name, port))
			continue
		case port < 1024:
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s %d requires root privileges", name, port))
		}
		if other, dup := seen[port]; dup {
			r.Errors = append(r.Errors, fmt.Sprintf("Port conflict detected - duplicate port assignments: %s and %s use %d", other, name, port))
		}
		seen[port] = name
	}

	if s.Indexer.ChunkChars > 0 && s.Indexer.ChunkOverlap >= s.Indexer.ChunkChars {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"indexer.chunk_overlap %d >= chunk_chars %d produces one-character progress per chunk",
			s.Indexer.ChunkOverlap, s.Indexer.ChunkChars))
	}
	for _, root := range s.Indexer.WatchPaths {
		info, err := os.Stat(root)
		switch {
		case err != nil:
			r.Warnings = append(r.Warnings, fmt.Sprintf("watch path %s does not exist", root))
		case !info.IsDir():
			r.Warnings = append(r.Warnings, fmt.Sprintf("watch path %s is not a directory", root))
		}
	}

	if strict {
		for _, w := range r.Warnings {
			r.Errors = append(r.Errors, "(strict) "+w)
		}
	}
	return r
}

// Print writes the report in color when w is a terminal
func (r Report) Print(w io.Writer) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	for _, e := range r.Errors {
		fmt.Fprintf(w, "%s %s\n", red("ERROR"), e)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "%s %s\n", yellow("WARN "), warn)
	}
	if r.OK() {
		fmt.Fprintf(w, "%s configuration is valid (%d warnings)\n", green("OK"), len(r.Warnings))
		return
	}
	fmt.Fprintf(w, "%s %d errors, %d warnings\n", red("FAILED"), len(r.Errors), len(r.Warnings))
}
