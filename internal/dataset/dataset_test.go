package dataset

import (
	"errors"
	"strings"
	"testing"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `id,X0,X1,T,Y
10,0.5,1.5,0,2.0
11,1.0,2.0,1,3.5
12,1.5,2.5,0,2.5
13,2.0,3.0,1,4.0
`

func TestReadCSV(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader(sampleCSV), DefaultColumns())
	require.NoError(t, err)

	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, 2, ds.P())
	assert.Equal(t, []string{"X0", "X1"}, ds.Covariates())
	assert.Equal(t, []core.UnitID{10, 11, 12, 13}, ds.IDs())
	assert.Equal(t, core.Treated, ds.Arm(1))
	assert.Equal(t, []float64{1.0, 2.0}, ds.Row(1))
	assert.Equal(t, 2, ds.ArmSize(core.Control))

	pos, ok := ds.Position(12)
	require.True(t, ok)
	assert.Equal(t, 2, pos)
}

func TestReadCSVWholeNumberFirstRow(t *testing.T) {
	in := "x0,x1,T,Y\r\n1,2,0,1\r\n1.5,2.5,1,2.25\r\n3,4.75,0,5\r\n"
	ds, err := ReadCSV(strings.NewReader(in), DefaultColumns())
	require.NoError(t, err)

	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, []float64{1.5, 2.5}, ds.Row(1))
	assert.Equal(t, []float64{1, 2.25, 5}, ds.Outcomes())
	assert.Equal(t, []core.Arm{core.Control, core.Treated, core.Control}, ds.Arms())
}

func TestReadCSVEmptyInput(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), DefaultColumns())
	require.Error(t, err)
	typ, _ := lcmerrors.TypeOf(err)
	assert.Equal(t, lcmerrors.ErrorTypeDataContract, typ)
}

func TestReadCSVWithoutIDUsesRowNumbers(t *testing.T) {
	in := "X0,T,Y\n1,0,1\n2,1,2\n"
	ds, err := ReadCSV(strings.NewReader(in), DefaultColumns())
	require.NoError(t, err)
	assert.Equal(t, []core.UnitID{0, 1}, ds.IDs())
	assert.Equal(t, []string{"X0"}, ds.Covariates())
}

func TestMissingColumns(t *testing.T) {
	in := "X0,X1\n1,2\n"
	_, err := ReadCSV(strings.NewReader(in), DefaultColumns())
	require.Error(t, err)

	var mc *core.MissingColumnError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, []string{"T", "Y"}, mc.Columns)
	assert.ErrorIs(t, err, core.ErrMissingColumn)
	assert.True(t, lcmerrors.IsFatal(err))
}

func TestInvalidTreatment(t *testing.T) {
	_, err := New([]string{"X0"}, [][]float64{{1}, {2}}, []float64{0, 2}, []float64{1, 1}, nil)
	require.Error(t, err)
	typ, ok := lcmerrors.TypeOf(err)
	require.True(t, ok)
	assert.Equal(t, lcmerrors.ErrorTypeDataContract, typ)
}

func TestDuplicateIDs(t *testing.T) {
	_, err := New([]string{"X0"}, [][]float64{{1}, {2}}, []float64{0, 1}, []float64{1, 1}, []core.UnitID{4, 4})
	assert.Error(t, err)
}

func TestSubsetKeepsIdentifiers(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader(sampleCSV), DefaultColumns())
	require.NoError(t, err)

	sub, err := ds.Subset([]core.UnitID{13, 10})
	require.NoError(t, err)
	assert.Equal(t, []core.UnitID{13, 10}, sub.IDs())
	assert.Equal(t, []float64{2.0, 3.0}, sub.Row(0))
	assert.Equal(t, 4.0, sub.Outcome(0))
	assert.Equal(t, core.Control, sub.Arm(1))

	_, err = ds.Subset([]core.UnitID{99})
	assert.Error(t, err)
}

func TestSelectColumns(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader(sampleCSV), DefaultColumns())
	require.NoError(t, err)
	rows := ds.SelectColumns([]int{1})
	assert.Equal(t, []float64{1.5}, rows[0])
	assert.Len(t, rows, 4)
}

func TestRecordRoundTrip(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader(sampleCSV), DefaultColumns())
	require.NoError(t, err)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := ds.ToRecord(mem, DefaultColumns())
	defer rec.Release()
	assert.Equal(t, int64(4), rec.NumRows())
	assert.Equal(t, int64(5), rec.NumCols())

	back, err := FromRecords(DefaultColumns(), rec)
	require.NoError(t, err)
	assert.Equal(t, ds.IDs(), back.IDs())
	assert.Equal(t, ds.Outcomes(), back.Outcomes())
	assert.Equal(t, ds.Arms(), back.Arms())
}
