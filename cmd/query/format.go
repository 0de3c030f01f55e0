package query

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf/ntriples"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/storage/sparqlhttp"
)

const (
	formatText     = "text"
	formatJSON     = "json"
	formatNTriples = "ntriples"
)

var formats = []string{formatText, formatJSON, formatNTriples}

func validFormat(f string) bool {
	return slices.Contains(formats, f)
}

func write(ctx context.Context, w io.Writer, format string, res *storage.QueryResult) error {
	graph := res.Form == algebra.FormConstruct || res.Form == algebra.FormDescribe
	switch {
	case graph && format == formatJSON:
		return fmt.Errorf("%s results cannot be written as %s", res.Form, format)
	case !graph && format == formatNTriples:
		return fmt.Errorf("%s results cannot be written as %s", res.Form, format)
	case graph:
		return writeTriples(ctx, w, res.Triples)
	case res.Form == algebra.FormAsk && format == formatJSON:
		return sparqlhttp.EncodeBoolean(w, res.Boolean)
	case res.Form == algebra.FormAsk:
		_, err := fmt.Fprintln(w, strconv.FormatBool(res.Boolean))
		return err
	}

	solutions, err := iterator.Collect(ctx, res.Solutions)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return sparqlhttp.EncodeSelect(w, res.Vars, solutions)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, v := range res.Vars {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, "?"+v)
	}
	fmt.Fprintln(tw)
	for _, s := range solutions {
		for i, v := range res.Vars {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			if t := s.Get(v); t.IsBound() {
				fmt.Fprint(tw, t.String())
			}
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func writeTriples(ctx context.Context, w io.Writer, it storage.TripleIterator) error {
	triples, err := iterator.Collect(ctx, it)
	if err != nil {
		return err
	}
	nw := ntriples.NewWriter(w)
	for _, t := range triples {
		if err := nw.Write(t); err != nil {
			return err
		}
	}
	return nw.Flush()
}
