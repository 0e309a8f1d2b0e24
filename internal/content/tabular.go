package content

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// extractXLSX flattens every sheet of a workbook into tab-separated lines,
// one sheet heading per sheet. Sheet names and row counts land in meta.
func extractXLSX(path string, meta map[string]string) (string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "content: open xlsx %s", path)
	}

	var b strings.Builder
	for _, sheet := range f.Sheets {
		fmt.Fprintf(&b, "## Sheet: %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			empty := true
			for _, cell := range row.Cells {
				v := strings.TrimSpace(cell.Value)
				if v != "" {
					empty = false
				}
				cells = append(cells, v)
			}
			if empty {
				continue
			}
			b.WriteString(strings.Join(cells, "\t"))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
		meta["sheet:"+sheet.Name] = strconv.Itoa(len(sheet.Rows))
	}
	meta["sheets"] = strconv.Itoa(len(f.Sheets))
	return b.String(), nil
}

// extractCSV renders a CSV file as tab-separated lines. Ragged rows are
// tolerated.
func extractCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "content: open csv %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return "", eris.Wrapf(err, "content: read csv %s", path)
	}

	var b strings.Builder
	for _, rec := range records {
		b.WriteString(strings.Join(rec, "\t"))
		b.WriteByte('\n')
	}
	return b.String(), nil
}
