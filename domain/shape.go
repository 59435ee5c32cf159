// Package domain contains the core concepts of the canvas engine.
// This file defines Shape entities and their merge bookkeeping.
// No runtime, network, or UI logic should be added here.
package domain

type ShapeKind string

const (
	KindRectangle ShapeKind = "rectangle"
	KindEllipse   ShapeKind = "ellipse"
	KindLine      ShapeKind = "line"
	KindFreehand  ShapeKind = "freehand-path"
	KindText      ShapeKind = "text"
	KindSticky    ShapeKind = "sticky-note"
	KindImageRef  ShapeKind = "image-ref"
)

// FieldGroup is the granularity of conflict resolution: concurrent writes
// to different groups of the same shape never clobber each other.
type FieldGroup string

const (
	GroupGeometry FieldGroup = "geometry"
	GroupStyle    FieldGroup = "style"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry carries the kind-dependent spatial payload. Rectangles, ellipses,
// text and notes use the bounding box; lines and freehand paths use Points.
// ZIndex belongs to the geometry group: stacking order is a spatial concern.
type Geometry struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
	Rotation float64 `json:"rotation,omitempty"`
	Points   []Point `json:"points,omitempty"`
	Text     string  `json:"text,omitempty"`
	ImageRef string  `json:"imageRef,omitempty"`
}

type Style struct {
	StrokeColor string  `json:"strokeColor,omitempty"`
	FillColor   string  `json:"fillColor,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Opacity     float64 `json:"opacity,omitempty"`
}

// Shape is one drawable object of a scene.
//
// Version increases by one for every operation applied to the shape and
// never decreases. GeometryVersion and StyleVersion record the shape version
// at which each field group last changed; they drive the per-group
// last-writer-wins merge together with the writer ids next to them.
type Shape struct {
	ID              string    `json:"id"`
	Kind            ShapeKind `json:"kind"`
	Geometry        Geometry  `json:"geometry"`
	Style           Style     `json:"style"`
	ZIndex          int       `json:"zIndex"`
	LastWriter      string    `json:"lastWriter"`
	Version         uint64    `json:"version"`
	GeometryVersion uint64    `json:"geometryVersion"`
	GeometryWriter  string    `json:"geometryWriter"`
	StyleVersion    uint64    `json:"styleVersion"`
	StyleWriter     string    `json:"styleWriter"`
}

// Clone returns a deep copy; Points is the only reference field.
func (s Shape) Clone() Shape {
	c := s
	if s.Geometry.Points != nil {
		c.Geometry.Points = make([]Point, len(s.Geometry.Points))
		copy(c.Geometry.Points, s.Geometry.Points)
	}
	return c
}

// Translate moves the shape by (dx, dy), including path points.
func (s *Shape) Translate(dx, dy float64) {
	s.Geometry.X += dx
	s.Geometry.Y += dy
	for i := range s.Geometry.Points {
		s.Geometry.Points[i].X += dx
		s.Geometry.Points[i].Y += dy
	}
}
