package report

import (
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/smtsim/pfsim/driver"
)

// Sheet names of the workbook WriteXLSX produces.
const (
	XlsxRunSheet     = "Run"
	XlsxCoresSheet   = "Cores"
	XlsxMetricsSheet = "Metrics"
)

func cellName(col int, row int) (name string) {
	columnName, err := excelize.ColumnNumberToName(col)
	if err != nil {
		return
	}

	name, err = excelize.JoinCellName(columnName, row)
	if err != nil {
		return
	}

	return
}

type xlsxRow struct {
	name  string
	value any
}

func coreRows(c driver.CoreResult) []xlsxRow {
	e := c.Engine

	return []xlsxRow{
		{"thread", c.Thread},
		{"accesses", c.Stats.Accesses},
		{"l1_hits", c.Stats.L1Hits},
		{"stream_hits", c.Stats.StreamHits},
		{"demand_misses", c.Stats.DemandMisses},
		{"merged_misses", c.Stats.MergedMisses},
		{"stall_cycles", c.Stats.StallCycles},
		{"l1_evictions", c.L1.Evictions},
		{"l1_writebacks", c.L1.Writebacks},
		{"pf_accesses", e.Accesses},
		{"pf_hits", e.Hits},
		{"pf_reqs_ok", e.PFReqsOK},
		{"pf_reqs_failed", e.PFReqsFailed},
		{"pf_skipped_busy", e.PFSkippedBusy},
		{"pf_used", e.PFUsed},
		{"full_wins", e.FullWinTime.Count},
		{"partial_wins", e.PartialWinTime.Count},
		{"stream_allocs", e.StreamAllocs},
		{"streams_replaced", e.PerStream.Replaced},
		{"streams_useless", e.PerStream.Useless},
		{"import_groups", e.Import.GroupTotal},
		{"import_groups_rejected", e.Import.GroupRejected},
		{"import_prompt", e.Import.StreamAcceptedPrompt},
		{"import_deferred", e.Import.StreamAcceptedDeferred},
	}
}

// cellValue keeps NaN out of the workbook.
func cellValue(v float64) any {
	if math.IsNaN(v) {
		return ""
	}

	return v
}

// WriteXLSX writes the result as a workbook with run, per-core and metrics
// sheets. The table may be nil.
func WriteXLSX(w io.Writer, r driver.Result, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
	})

	_ = f.SetSheetName("Sheet1", XlsxRunSheet)
	_ = f.SetColWidth(XlsxRunSheet, "A", "A", 28)
	_ = f.SetColWidth(XlsxRunSheet, "B", "B", 18)

	run := []xlsxRow{
		{"cycles", r.Cycles},
		{"outstanding_prefetches", r.OutstandingPrefetches},
		{"mem_demands", r.Mem.Demands},
		{"mem_prefetches", r.Mem.Prefetches},
		{"mem_demand_joins", r.Mem.DemandJoins},
		{"mem_prefetch_joins", r.Mem.PrefetchJoins},
		{"mem_rejected_mshr_full", r.Mem.RejectedMSHRFull},
		{"mem_rejected_port_busy", r.Mem.RejectedPortBusy},
		{"migrations", r.Migration.Migrations},
		{"streams_exported", r.Migration.StreamsExported},
		{"migration_bits", r.Migration.BitsTransferred},
		{"imports_prompt", r.Migration.Prompt},
		{"imports_deferred", r.Migration.Deferred},
		{"imports_rejected_at_target", r.Migration.RejectedAtTarget},
		{"import_groups_rejected", r.Migration.RejectedGroups},
	}

	for i, row := range run {
		_ = f.SetCellValue(XlsxRunSheet, cellName(1, i+1), row.name)
		_ = f.SetCellStyle(XlsxRunSheet, cellName(1, i+1), cellName(1, i+1),
			headerStyle)
		_ = f.SetCellValue(XlsxRunSheet, cellName(2, i+1), row.value)
	}

	if _, err := f.NewSheet(XlsxCoresSheet); err != nil {
		return errors.Wrap(err, "creating cores sheet")
	}

	_ = f.SetColWidth(XlsxCoresSheet, "A", "A", 28)
	_ = f.SetColWidth(XlsxCoresSheet, "B", "Z", 14)

	for col, c := range r.Cores {
		_ = f.SetCellValue(XlsxCoresSheet, cellName(col+2, 1),
			"core "+strconv.Itoa(c.ID))
		_ = f.SetCellStyle(XlsxCoresSheet, cellName(col+2, 1),
			cellName(col+2, 1), headerStyle)

		for i, row := range coreRows(c) {
			if col == 0 {
				_ = f.SetCellValue(XlsxCoresSheet, cellName(1, i+2), row.name)
			}

			_ = f.SetCellValue(XlsxCoresSheet, cellName(col+2, i+2), row.value)
		}
	}

	if t != nil {
		if err := writeMetricsSheet(f, t, headerStyle); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "writing xlsx report")
	}

	return nil
}

func writeMetricsSheet(f *excelize.File, t *Table, headerStyle int) error {
	sheet := XlsxMetricsSheet

	if _, err := f.NewSheet(sheet); err != nil {
		return errors.Wrap(err, "creating metrics sheet")
	}

	_ = f.SetColWidth(sheet, "A", "A", 22)
	_ = f.SetColWidth(sheet, "B", "Z", 12)

	header := []string{"metric"}
	for _, c := range t.Cores {
		header = append(header, "core "+strconv.Itoa(c))
	}

	header = append(header, "mean", "sd", "min", "median", "max")

	for col, h := range header {
		_ = f.SetCellValue(sheet, cellName(col+1, 1), h)
	}

	_ = f.SetCellStyle(sheet, cellName(1, 1), cellName(len(header), 1),
		headerStyle)

	for m, name := range t.Metrics {
		row := m + 2
		_ = f.SetCellValue(sheet, cellName(1, row), name)

		for c := range t.Cores {
			_ = f.SetCellValue(sheet, cellName(c+2, row),
				cellValue(t.Values[c][m]))
		}

		s := t.Summary[m]
		for i, v := range []float64{s.Mean, s.StdDev, s.Min, s.Median, s.Max} {
			_ = f.SetCellValue(sheet, cellName(len(t.Cores)+2+i, row),
				cellValue(v))
		}
	}

	return nil
}
