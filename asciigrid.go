package dem

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
)

// asciiGridNoData is the nodata value written to ESRI ASCII grids.
const asciiGridNoData = -9999

// WriteASCIIGrid writes m to w as an ESRI ASCII grid. Nodata cells are
// written as -9999.
func WriteASCIIGrid(w io.Writer, m *Mosaic) error {
	rows, cols := m.Dims()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\n", cols)
	fmt.Fprintf(bw, "nrows %d\n", rows)
	fmt.Fprintf(bw, "xllcorner %s\n", formatFloat(m.Extent.MinX))
	fmt.Fprintf(bw, "yllcorner %s\n", formatFloat(m.Extent.MinY))
	if m.ResX == m.ResY {
		fmt.Fprintf(bw, "cellsize %s\n", formatFloat(m.ResX))
	} else {
		fmt.Fprintf(bw, "dx %s\n", formatFloat(m.ResX))
		fmt.Fprintf(bw, "dy %s\n", formatFloat(m.ResY))
	}
	fmt.Fprintf(bw, "NODATA_value %d\n", asciiGridNoData)
	buf := make([]byte, 0, 32)
	for r := range rows {
		for c := range cols {
			if c > 0 {
				bw.WriteByte(' ')
			}
			value := m.Grid.At(r, c)
			if m.IsNoData(value) || math.IsInf(value, 0) {
				value = asciiGridNoData
			}
			bw.Write(strconv.AppendFloat(buf[:0], value, 'f', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
