package ntriples

import (
	"bufio"
	"io"

	"github.com/ephedra/ephedra/pkg/rdf"
)

// Writer encodes triples, one per line. Call Flush when done.
type Writer struct {
	w *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) Write(t rdf.Triple) error {
	if _, err := w.w.WriteString(t.String()); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}
