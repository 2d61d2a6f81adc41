package frame_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkobilansky/funnel-goat/internal/frame"
)

func TestColumn_Missing(t *testing.T) {
	f := frame.New([]string{"client_id", "visit_id"}, nil)

	_, err := f.Column("date_time")
	require.Error(t, err)
	assert.True(t, errors.Is(err, frame.ErrMissingColumn))
	assert.Contains(t, err.Error(), "date_time")
}

func TestRequire(t *testing.T) {
	f := frame.New([]string{"a", "b", "c"}, [][]string{{"1", "2", "3"}})

	idx, err := f.Require("c", "a")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, idx)

	_, err = f.Require("a", "z")
	assert.ErrorIs(t, err, frame.ErrMissingColumn)
}

func TestNew_PadsShortRows(t *testing.T) {
	f := frame.New([]string{"a", "b"}, [][]string{{"1"}})

	assert.Equal(t, "", f.Cell(0, 1))
}

func TestWithColumn_DoesNotMutateInput(t *testing.T) {
	f := frame.New([]string{"a"}, [][]string{{"1"}, {"2"}})

	g, err := f.WithColumn("a", []string{"x", "y"})
	require.NoError(t, err)

	assert.Equal(t, "1", f.Cell(0, 0))
	assert.Equal(t, "x", g.Cell(0, 0))

	h, err := f.WithColumn("b", []string{"p", "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, h.Columns())
	assert.Equal(t, []string{"a"}, f.Columns())

	_, err = f.WithColumn("c", []string{"only one"})
	assert.Error(t, err)
}

func TestConcat_UnionsHeaders(t *testing.T) {
	a := frame.New([]string{"client_id", "visit_id"}, [][]string{{"c1", "v1"}})
	b := frame.New([]string{"visit_id", "client_id", "extra"}, [][]string{{"v2", "c2", "e"}})

	f := frame.Concat(a, b)

	assert.Equal(t, []string{"client_id", "visit_id", "extra"}, f.Columns())
	require.Equal(t, 2, f.Len())
	assert.Equal(t, []string{"c1", "v1", ""}, f.Row(0))
	assert.Equal(t, []string{"c2", "v2", "e"}, f.Row(1))
}
