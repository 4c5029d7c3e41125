package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// HTMLToPDF renders an HTML document to PDF through headless Chrome. It is a
// thin wrapper: the heavy lifting is the browser's print pipeline.
type HTMLToPDF struct{}

// NewHTMLToPDF creates the html-pdf converter
func NewHTMLToPDF() *HTMLToPDF { return &HTMLToPDF{} }

// Name implements Converter
func (c *HTMLToPDF) Name() string { return "html-pdf" }

// Convert implements Converter
func (c *HTMLToPDF) Convert(ctx context.Context, inputPath, outputPath string) error {
	abs, err := absoluteFileURL(inputPath)
	if err != nil {
		return err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(abs),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("headless chrome render failed: %w", err)
	}

	if err := os.WriteFile(outputPath, pdf, 0o644); err != nil {
		return fmt.Errorf("failed to write PDF output: %w", err)
	}
	return nil
}

func absoluteFileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve input path: %w", err)
	}
	return "file://" + abs, nil
}
