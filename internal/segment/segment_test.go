package segment

import (
	"testing"

	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment_OnePagePerUnit(t *testing.T) {
	s := New()
	doc := testutil.BuildPDF(3)

	units, err := s.Segment(doc, 1)
	require.NoError(t, err)
	require.Len(t, units, 3)

	for i, u := range units {
		assert.Equal(t, i+1, u.Ordinal)
		assert.Equal(t, i+1, u.FirstPage)
		assert.Equal(t, 1, u.PageSpan)
		assert.Equal(t, u.FirstPage, u.LastPage())

		n, err := s.PageCount(u.Bytes)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestSegment_ChunkedCoversEveryPageOnce(t *testing.T) {
	s := New()
	units, err := s.Segment(testutil.BuildPDF(5), 2)
	require.NoError(t, err)
	require.Len(t, units, 3)

	covered := map[int]int{}
	for _, u := range units {
		for p := u.FirstPage; p <= u.LastPage(); p++ {
			covered[p]++
		}
	}
	for p := 1; p <= 5; p++ {
		assert.Equal(t, 1, covered[p], "page %d", p)
	}
	assert.Equal(t, 1, units[2].PageSpan)
	assert.Equal(t, 5, units[2].FirstPage)

	n, err := s.PageCount(units[0].Bytes)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSegment_DefaultsInvalidSpan(t *testing.T) {
	units, err := New().Segment(testutil.BuildPDF(2), 0)
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestSegment_IsStableAcrossCalls(t *testing.T) {
	s := New()
	doc := testutil.BuildPDF(4)

	first, err := s.Segment(doc, 1)
	require.NoError(t, err)
	second, err := s.Segment(doc, 1)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Ordinal, second[i].Ordinal)
		assert.Equal(t, first[i].FirstPage, second[i].FirstPage)
		assert.Equal(t, first[i].PageSpan, second[i].PageSpan)
	}
}

func TestSegment_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  []byte
	}{
		{"empty", nil},
		{"not_a_pdf", []byte("this is not a pdf")},
		{"truncated", testutil.BuildPDF(2)[:40]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units, err := New().Segment(tt.doc, 1)
			assert.ErrorIs(t, err, common.ErrMalformedDocument)
			assert.Nil(t, units)
		})
	}
}

func TestPage(t *testing.T) {
	s := New()
	doc := testutil.BuildPDF(3)

	u, err := s.Page(doc, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Ordinal)
	assert.Equal(t, 2, u.FirstPage)
	assert.Equal(t, 1, u.PageSpan)

	_, err = s.Page(doc, 4)
	assert.ErrorIs(t, err, common.ErrInvalidPage)
	_, err = s.Page(doc, 0)
	assert.ErrorIs(t, err, common.ErrInvalidPage)
}
