// Package segment splits a source PDF into independently extractable units.
package segment

import (
	"bytes"
	"fmt"

	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DefaultSpan is the number of pages per unit on the synchronous path.
const DefaultSpan = 1

// Unit is one slice of a document, sent to the extractor as a standalone PDF.
// Ordinals start at 1 and are contiguous.
type Unit struct {
	Ordinal   int
	FirstPage int
	PageSpan  int
	Bytes     []byte
}

// LastPage is the last 1-indexed source page covered by the unit.
func (u Unit) LastPage() int {
	return u.FirstPage + u.PageSpan - 1
}

// Segmenter isolates pages with pdfcpu. It holds no per-document state and
// is safe for concurrent use.
type Segmenter struct{}

// New returns a Segmenter.
func New() *Segmenter {
	return &Segmenter{}
}

// newConf returns a fresh configuration per call; pdfcpu records the running
// command on the configuration it is handed.
func newConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in doc.
func (s *Segmenter) PageCount(doc []byte) (int, error) {
	if len(doc) == 0 {
		return 0, fmt.Errorf("%w: empty document", common.ErrMalformedDocument)
	}
	n, err := api.PageCount(bytes.NewReader(doc), newConf())
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get page count: %v", common.ErrMalformedDocument, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: document has no pages", common.ErrMalformedDocument)
	}
	return n, nil
}

// Segment splits doc into units of span pages (the last unit may be shorter).
// Any page that cannot be isolated fails the whole document; no partial
// segmentation is returned.
func (s *Segmenter) Segment(doc []byte, span int) ([]Unit, error) {
	if span < 1 {
		span = DefaultSpan
	}
	pageCount, err := s.PageCount(doc)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, (pageCount+span-1)/span)
	for first, ordinal := 1, 1; first <= pageCount; first, ordinal = first+span, ordinal+1 {
		last := min(first+span-1, pageCount)
		b, err := trim(doc, first, last)
		if err != nil {
			return nil, err
		}
		units = append(units, Unit{
			Ordinal:   ordinal,
			FirstPage: first,
			PageSpan:  last - first + 1,
			Bytes:     b,
		})
	}
	return units, nil
}

// Page isolates a single page for re-extraction. The returned unit's
// ordinal equals the page number.
func (s *Segmenter) Page(doc []byte, page int) (Unit, error) {
	pageCount, err := s.PageCount(doc)
	if err != nil {
		return Unit{}, err
	}
	if page < 1 || page > pageCount {
		return Unit{}, fmt.Errorf("%w: page %d outside [1, %d]", common.ErrInvalidPage, page, pageCount)
	}
	b, err := trim(doc, page, page)
	if err != nil {
		return Unit{}, err
	}
	return Unit{Ordinal: page, FirstPage: page, PageSpan: 1, Bytes: b}, nil
}

func trim(doc []byte, first, last int) ([]byte, error) {
	selection := fmt.Sprintf("%d", first)
	if last > first {
		selection = fmt.Sprintf("%d-%d", first, last)
	}
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(doc), &out, []string{selection}, newConf()); err != nil {
		return nil, fmt.Errorf("%w: failed to isolate pages %s: %v", common.ErrMalformedDocument, selection, err)
	}
	return out.Bytes(), nil
}
