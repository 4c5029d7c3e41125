package converter

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

// XLSXToCSV flattens the first sheet of an Excel workbook into CSV
type XLSXToCSV struct{}

// NewXLSXToCSV creates the xlsx-csv converter
func NewXLSXToCSV() *XLSXToCSV { return &XLSXToCSV{} }

// Name implements Converter
func (c *XLSXToCSV) Name() string { return "xlsx-csv" }

// Convert implements Converter
func (c *XLSXToCSV) Convert(ctx context.Context, inputPath, outputPath string) error {
	book, err := excelize.OpenFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return fmt.Errorf("workbook has no sheets")
	}

	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV output: %w", err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
