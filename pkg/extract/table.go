package extract

import (
	"encoding/csv"
	"math"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"

	"radextract/internal/models"
	"radextract/pkg/resample"
)

// Table is one session's metric table for a single metric type: statistic
// rows by region columns, columns in atlas order (ROIs first, then TPMs).
type Table struct {
	Columns []string
	Regions map[string]Stats
}

// BuildTable extracts statistics for every cached atlas entry against one
// metric volume. ROI and TPM statistics live in one table but keep separate
// namespaces: a TPM whose name collides with an ROI gets a "_tpm" suffix
// instead of silently overwriting the ROI column.
func BuildTable(data *models.Volume, entries []resample.Entry) *Table {
	t := &Table{
		Columns: make([]string, 0, len(entries)),
		Regions: make(map[string]Stats, len(entries)),
	}
	for _, e := range entries {
		name := e.Name
		if e.Kind == models.TPM {
			if _, taken := t.Regions[name]; taken {
				name += "_tpm"
			}
		}
		t.Columns = append(t.Columns, name)
		t.Regions[name] = Compute(data, e.Vol)
	}
	return t
}

// WriteCSV writes the table with one row per statistic and one column per
// region. The leading index column is labelled "metric" and NaN values are
// written as empty cells, matching the upstream pipeline's CSV shape.
func (t *Table) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := append([]string{"metric"}, t.Columns...)
	if err := w.Write(header); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}

	for i, statName := range Names {
		row := make([]string, 0, len(t.Columns)+1)
		row = append(row, statName)
		for _, col := range t.Columns {
			row = append(row, formatCell(t.Regions[col].Row()[i]))
		}
		if err := w.Write(row); err != nil {
			return errors.Wrapf(err, "writing %s", path)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, "flushing %s", path)
	}
	return nil
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
