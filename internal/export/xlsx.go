// Package export writes extracted products to spreadsheet files.
package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pricewatch-cli/internal/model"
)

// SheetName is the worksheet holding the product rows.
const SheetName = "Products"

// Columns is the header row, in cell order.
var Columns = []string{
	"job_id", "site", "position", "name", "price", "original_price", "currency",
	"rating", "review_count", "availability", "url", "image_url",
	"confidence", "source", "scraped_at",
}

// Workbook builds a workbook with one row per product after the header.
func Workbook(products []model.Product) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}

	for _, p := range products {
		row := sheet.AddRow()
		row.AddCell().SetString(p.JobID)
		row.AddCell().SetString(p.Site)
		row.AddCell().SetInt(p.Position)
		row.AddCell().SetString(p.Name)
		row.AddCell().SetFloat(p.Price)
		optionalFloat(row.AddCell(), p.OriginalPrice)
		row.AddCell().SetString(p.Currency)
		optionalFloat(row.AddCell(), p.Rating)
		if p.ReviewCount != nil {
			row.AddCell().SetInt(*p.ReviewCount)
		} else {
			row.AddCell()
		}
		row.AddCell().SetString(p.Availability)
		row.AddCell().SetString(p.URL)
		row.AddCell().SetString(p.ImageURL)
		row.AddCell().SetFloat(p.Confidence)
		row.AddCell().SetString(string(p.Source))
		if p.ScrapedAt.IsZero() {
			row.AddCell()
		} else {
			row.AddCell().SetString(p.ScrapedAt.UTC().Format(time.RFC3339))
		}
	}
	return f, nil
}

// WriteXLSX streams the workbook for products to w.
func WriteXLSX(w io.Writer, products []model.Product) error {
	f, err := Workbook(products)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

// SaveXLSX writes the workbook for products to path.
func SaveXLSX(path string, products []model.Product) error {
	f, err := Workbook(products)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func optionalFloat(c *xlsx.Cell, v *float64) {
	if v != nil {
		c.SetFloat(*v)
	}
}
