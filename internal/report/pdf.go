package report

import (
	"bytes"
	"fmt"

	"codeberg.org/go-pdf/fpdf"

	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/units"
)

// LapReportPDF renders a competitor's laps, lap statistics and, when chart
// is non-empty, the PNG lap chart as an A4 page.
func LapReportPDF(snap race.Snapshot, h race.LapHistory, chart []byte) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Laps - %s", h.Name), true)
	pdf.SetCreator("laps.report", true)
	// The core fonts are cp1252; translate names with accents and the ordinal sign.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr(fmt.Sprintf("Laps - rider %s", h.Name)), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	subtitle := fmt.Sprintf("#%d  %s  %s", h.Number, h.Category, h.Model)
	if snap.RaceName != "" {
		subtitle += "  -  " + snap.RaceName
	}
	pdf.CellFormat(0, 6, tr(subtitle), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr("Race start "+units.FormatClock(snap.RaceStart)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 14)
	for i, d := range h.Laps {
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("%d° lap - %s", i+1, units.FormatHMS(d))), "B", 1, "L", false, 0, "")
	}
	if len(h.Laps) == 0 {
		pdf.CellFormat(0, 8, "No laps completed", "", 1, "L", false, 0, "")
	}

	if st := ComputeLapStats(h.Laps); st.Count > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, "Statistics", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		rows := [][2]string{
			{"Laps", fmt.Sprintf("%d", st.Count)},
			{"Best lap", fmt.Sprintf("%s (lap %d)", units.FormatHMS(st.Best), st.BestLap)},
			{"Mean lap", units.FormatHMS(st.Mean)},
			{"Std. deviation", st.StdDev.String()},
			{"Total", units.FormatHMS(st.Total)},
		}
		for _, r := range rows {
			pdf.CellFormat(45, 6, r[0], "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, r[1], "", 1, "L", false, 0, "")
		}
	}

	if len(chart) > 0 {
		pdf.Ln(6)
		opt := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
		pdf.RegisterImageOptionsReader("lapchart", opt, bytes.NewReader(chart))
		pdf.ImageOptions("lapchart", 10, pdf.GetY(), 190, 0, false, opt, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("lap report pdf: %w", err)
	}
	return buf.Bytes(), nil
}
