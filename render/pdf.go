package render

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFRenderer prints a full HTML document to PDF bytes. props are stored as
// document properties.
type PDFRenderer interface {
	PDF(ctx context.Context, fullHTML string, props map[string]string) ([]byte, error)
}

// Printer is the raw HTML to PDF engine. *browser.Manager satisfies it.
type Printer interface {
	PDF(ctx context.Context, fullHTML string) ([]byte, error)
}

// ChromePDF prints through headless Chrome, then validates the output with
// pdfcpu and stamps the document properties.
type ChromePDF struct {
	printer Printer
	conf    *model.Configuration
}

// NewChromePDF creates a ChromePDF over p.
func NewChromePDF(p Printer) *ChromePDF {
	return &ChromePDF{printer: p, conf: model.NewDefaultConfiguration()}
}

func (c *ChromePDF) PDF(ctx context.Context, fullHTML string, props map[string]string) ([]byte, error) {
	raw, err := c.printer.PDF(ctx, fullHTML)
	if err != nil {
		return nil, err
	}
	return Finish(raw, props, c.conf)
}

// Finish validates a PDF and adds props to its document properties. A nil
// conf uses pdfcpu defaults.
func Finish(raw []byte, props map[string]string, conf *model.Configuration) ([]byte, error) {
	if conf == nil {
		conf = model.NewDefaultConfiguration()
	}
	if err := api.Validate(bytes.NewReader(raw), conf); err != nil {
		return nil, fmt.Errorf("render: invalid pdf: %w", err)
	}
	if len(props) == 0 {
		return raw, nil
	}
	var out bytes.Buffer
	if err := api.AddProperties(bytes.NewReader(raw), &out, props, conf); err != nil {
		return nil, fmt.Errorf("render: pdf properties: %w", err)
	}
	return out.Bytes(), nil
}
