package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/sourcing-cli/internal/features"
	"github.com/sells-group/sourcing-cli/internal/model"
)

// exportColumns defines the ordered ranking workbook columns.
var exportColumns = []string{
	"Rank",
	"Company ID",
	"Name",
	"Industry",
	"Revenue",
	"Composite Score",
	"Financial Score",
	"Uplift Score",
	"Strategic Fit",
	"Override Delta",
	"Pinned",
}

// ExportXLSX writes the run's persisted composite ranking as a spreadsheet
// for deal-team review. Rank the run first; this exports what was saved.
func (p *Pipeline) ExportXLSX(ctx context.Context, runID, outputPath string) error {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	rankings, err := p.store.GetRankings(ctx, runID)
	if err != nil {
		return err
	}
	if len(rankings) == 0 {
		return eris.Errorf("pipeline: run %s has no saved ranking; run rank first", runID)
	}

	universe, err := p.features.Universe(ctx, features.Filter{Universe: run.Universe})
	if err != nil {
		return err
	}
	companies := make(map[string]model.CompanyFeatureVector, len(universe))
	for _, v := range universe {
		companies[v.CompanyID] = v
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Ranking")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range exportColumns {
		header.AddCell().Value = col
	}

	// Thousands separators keep eight-figure revenue readable.
	printer := message.NewPrinter(language.English)

	for i, r := range rankings {
		company := companies[r.CompanyID]

		row := sheet.AddRow()
		row.AddCell().SetInt(i + 1)
		row.AddCell().Value = r.CompanyID
		row.AddCell().Value = company.Name
		row.AddCell().Value = company.Industry
		revenue := ""
		if company.Revenue != nil {
			revenue = printer.Sprintf("$%.0f", *company.Revenue)
		}
		row.AddCell().Value = revenue
		row.AddCell().SetFloat(r.CompositeScore)
		row.AddCell().SetFloat(r.FinancialScore)
		row.AddCell().SetFloat(r.UpliftScore)
		row.AddCell().SetFloat(r.StrategicFitScore)
		row.AddCell().SetFloat(r.ManualOverrideDelta)
		row.AddCell().SetBool(r.Pinned)
	}

	return eris.Wrapf(f.Save(outputPath), "export: save %s", outputPath)
}
