package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPlain reads a text file, dropping invalid UTF-8 sequences.
func extractPlain(path string) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return unreadable(path, err)
	}
	return textResult(strings.ToValidUTF8(string(data), ""))
}

// extractCSV joins each row's fields with single spaces, one row per line.
// Ragged rows are accepted.
func extractCSV(path string) Result {
	f, err := os.Open(path)
	if err != nil {
		return unreadable(path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows []string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return unreadable(path, err)
		}
		rows = append(rows, strings.Join(rec, " "))
	}
	return textResult(strings.ToValidUTF8(strings.Join(rows, "\n"), ""))
}

// extractPDF concatenates page texts. The PDF reader panics on some
// malformed files, so panics are converted into an unreadable result.
func extractPDF(path string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = unreadable(path, fmt.Errorf("pdf parser panic: %v", r))
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return unreadable(path, err)
	}
	defer func() { _ = f.Close() }()

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return unreadable(path, fmt.Errorf("page %d: %w", i, err))
		}
		if text != "" {
			pages = append(pages, text)
		}
	}
	return textResult(strings.Join(pages, "\n"))
}
