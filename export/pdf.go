// Package export renders a canvas snapshot to printable output.
package export

import (
	"io"
	"sort"

	"github.com/jung-kurt/gofpdf"

	"boardsync/domain"
)

// Canvas coordinates are pixels; the page works in millimeters.
const pxPerMM = 3.0

// RenderPDF draws the snapshot's shapes onto an A4 page in stacking order.
func RenderPDF(snap domain.Snapshot, w io.Writer) error {
	shapes := make([]domain.Shape, len(snap.Shapes))
	copy(shapes, snap.Shapes)
	sort.Slice(shapes, func(i, j int) bool {
		if shapes[i].ZIndex != shapes[j].ZIndex {
			return shapes[i].ZIndex < shapes[j].ZIndex
		}
		return shapes[i].ID < shapes[j].ID
	})

	p := gofpdf.New("P", "mm", "A4", "")
	p.AddPage()
	p.SetFont("Helvetica", "", 10)
	p.SetDrawColor(0, 0, 0)

	for _, s := range shapes {
		drawShape(p, s)
	}
	return p.Output(w)
}

func drawShape(p *gofpdf.Fpdf, s domain.Shape) {
	width := s.Style.StrokeWidth / pxPerMM
	if width <= 0 {
		width = 0.5
	}
	p.SetLineWidth(width)

	x := s.Geometry.X / pxPerMM
	y := s.Geometry.Y / pxPerMM
	wd := s.Geometry.Width / pxPerMM
	ht := s.Geometry.Height / pxPerMM

	switch s.Kind {
	case domain.KindRectangle, domain.KindSticky, domain.KindImageRef:
		p.Rect(x, y, wd, ht, "D")
	case domain.KindEllipse:
		p.Ellipse(x+wd/2, y+ht/2, wd/2, ht/2, 0, "D")
	case domain.KindLine, domain.KindFreehand:
		pts := s.Geometry.Points
		for i := 1; i < len(pts); i++ {
			p.Line(pts[i-1].X/pxPerMM, pts[i-1].Y/pxPerMM,
				pts[i].X/pxPerMM, pts[i].Y/pxPerMM)
		}
	case domain.KindText:
		p.Text(x, y, s.Geometry.Text)
	}

	// Sticky notes carry their text inside the box.
	if s.Kind == domain.KindSticky && s.Geometry.Text != "" {
		p.Text(x+1, y+4, s.Geometry.Text)
	}
}
