package pipeline

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/discovery-cli/internal/model"
)

// ExportRow is one (entity, candidate) pair in the flattened export.
type ExportRow struct {
	ContractorName  string `csv:"contractor_name"`
	Email           string `csv:"email"`
	RegistryNumber  string `csv:"registry_number"`
	Phone           string `csv:"phone"`
	BusinessName    string `csv:"business_name"`
	Address         string `csv:"address"`
	Website         string `csv:"website"`
	Classification  string `csv:"classification"`
	Status          string `csv:"status"`
	Confidence      int    `csv:"confidence"`
	EvidenceSources string `csv:"evidence_sources"`
}

// exportHeaders are the XLSX column titles, in ExportRow field order.
var exportHeaders = []string{
	"Contractor Name",
	"Email",
	"Registry Number",
	"Phone",
	"Business Name",
	"Address",
	"Website",
	"Classification",
	"Status",
	"Confidence",
	"Evidence Sources",
}

// ExportRows flattens results: one row per candidate, or a single
// placeholder row for an entity with none.
func ExportRows(results []model.EntityResult) []ExportRow {
	var rows []ExportRow
	for _, r := range results {
		base := baseRow(r)
		if len(r.Candidates) == 0 {
			rows = append(rows, base)
			continue
		}
		for _, c := range r.Candidates {
			row := base
			row.Email = c.Email
			row.Confidence = c.Confidence
			rows = append(rows, row)
		}
	}
	return rows
}

func baseRow(r model.EntityResult) ExportRow {
	e := model.EntityFromInput(r.Input)
	if r.Entity != nil {
		e = *r.Entity
	}
	return ExportRow{
		ContractorName:  e.Name,
		RegistryNumber:  e.RegistryNumber,
		Phone:           e.Phone,
		BusinessName:    e.BusinessName,
		Address:         e.Address,
		Website:         e.Website,
		Classification:  e.Classification,
		Status:          e.Status,
		EvidenceSources: r.EvidenceSources(),
	}
}

// WriteCSV writes the export as CSV with a header row.
func WriteCSV(w io.Writer, results []model.EntityResult) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	rows := ExportRows(results)
	if len(rows) == 0 {
		if err := enc.EncodeHeader(ExportRow{}); err != nil {
			return eris.Wrap(err, "export: write header")
		}
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes the export as a single-sheet workbook.
func WriteXLSX(w io.Writer, results []model.EntityResult) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Contacts")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range exportHeaders {
		header.AddCell().SetString(h)
	}
	for _, r := range ExportRows(results) {
		row := sheet.AddRow()
		for _, v := range []string{r.ContractorName, r.Email, r.RegistryNumber, r.Phone, r.BusinessName, r.Address, r.Website, r.Classification, r.Status} {
			row.AddCell().SetString(v)
		}
		row.AddCell().SetInt(r.Confidence)
		row.AddCell().SetString(r.EvidenceSources)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}
