package receipt

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Renderer turns receipt data into a document.
type Renderer interface {
	Render(ctx context.Context, data Data) (io.Reader, error)
}

type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) Render(ctx context.Context, data Data) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	title := "Receipt"
	if data.Simulated {
		title = "Receipt (sandbox)"
	}
	m.AddRow(20,
		text.NewCol(12, title, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Request: "+data.RequestID, props.Text{Top: 0, Size: 8}),
			text.New("Reference: "+data.ReferenceID, props.Text{Top: 5, Size: 8}),
			text.New("Payment: "+data.PaymentID, props.Text{Top: 10, Size: 8}),
			text.New("Date paid: "+data.PaidAt.UTC().Format("2006-01-02 15:04 MST"), props.Text{Top: 15, Size: 8}),
		),
		col.New(6).Add(
			text.New("Team", props.Text{Style: fontstyle.Bold}),
			text.New(orDash(data.TeamName), props.Text{Top: 5}),
			text.New("Requested by "+orDash(data.RequestedBy), props.Text{Top: 10, Size: 8}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, data.Total()+" paid", props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Item", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(15,
		col.New(6).Add(
			text.New(data.Description, props.Text{Size: 9}),
			text.New(data.Change(), props.Text{Size: 8, Top: 5}),
		),
		text.NewCol(2, data.ItemID, props.Text{Size: 9, Align: align.Right}),
		text.NewCol(4, data.Total(), props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, data.Total(), props.Text{Size: 9, Align: align.Right, Style: fontstyle.Bold}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
