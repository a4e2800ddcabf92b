package flamegraph

import (
	"errors"
	"fmt"
	"html"
	"io"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/danpilch/calltrace/pkg/profile"
)

// ErrEmptyGraph is returned when a graph without recorded time is rendered.
var ErrEmptyGraph = errors.New("flame graph has no recorded time")

// SVGOptions configures the flame graph SVG output.
type SVGOptions struct {
	Title       string
	Width       int
	Height      int    // 0 sizes the image to the graph depth
	ColorScheme string // "hot", "cold", "mem"
}

// DefaultSVGOptions returns sensible defaults.
func DefaultSVGOptions() SVGOptions {
	return SVGOptions{
		Title:       "Flame Graph",
		Width:       1200,
		ColorScheme: "hot",
	}
}

const (
	svgFrameHeight = 16
	svgHeader      = 40
	svgMargin      = 10
	svgCharWidth   = 7
	// Frames narrower than this are dropped together with their subtree.
	svgMinWidth = 0.1
)

// GenerateSVG renders folded stacks as an SVG flame graph.
func GenerateSVG(collapsed io.Reader, svg io.Writer, opts SVGOptions) error {
	g, err := ParseFolded(collapsed)
	if err != nil {
		return err
	}
	return RenderSVG(svg, g, opts)
}

// RenderSVG renders a flame graph as SVG with the root at the bottom.
// Frame widths are proportional to inclusive time and colours are derived
// from the function name, so a function keeps its colour across graphs.
func RenderSVG(svg io.Writer, g *profile.FlameGraph, opts SVGOptions) error {
	if g.Root.Value <= 0 {
		return ErrEmptyGraph
	}
	if opts.Width <= 2*svgMargin {
		opts.Width = DefaultSVGOptions().Width
	}
	if opts.Height == 0 {
		opts.Height = svgHeader + (g.Depth()+1)*svgFrameHeight + 2*svgMargin
	}

	r := &svgRenderer{
		w:      svg,
		bottom: float64(opts.Height - svgMargin),
		scale:  float64(opts.Width-2*svgMargin) / float64(g.Root.Value),
		total:  g.Root.Value,
		scheme: opts.ColorScheme,
	}
	r.header(opts)
	r.frame(g.Root, svgMargin, 0)
	fmt.Fprintln(r.w, "</svg>")
	return r.err
}

type svgRenderer struct {
	w      io.Writer
	err    error
	bottom float64
	scale  float64 // pixels per nanosecond
	total  time.Duration
	scheme string
}

func (r *svgRenderer) printf(format string, args ...any) {
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintf(r.w, format, args...)
}

func (r *svgRenderer) header(opts SVGOptions) {
	r.printf(`<?xml version="1.0" standalone="no"?>
<svg version="1.1" width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
<style>
  g:hover rect { stroke:black; stroke-width:0.5; }
  text { font-family:monospace; font-size:12px; }
</style>
<rect width="100%%" height="100%%" fill="#f8f8f8"/>
<text x="%d" y="20" text-anchor="middle" style="font-size:16px;font-weight:bold">%s</text>
<text x="%d" y="35" text-anchor="middle" style="fill:#666">%v top-level time</text>
`, opts.Width, opts.Height,
		opts.Width/2, html.EscapeString(opts.Title),
		opts.Width/2, r.total)
}

func (r *svgRenderer) frame(n *profile.FlameNode, x float64, depth int) {
	width := float64(n.Value) * r.scale
	if width < svgMinWidth {
		return
	}
	y := r.bottom - float64((depth+1)*svgFrameHeight)
	red, green, blue := frameColor(n.Key.Name, r.scheme)

	r.printf(`<g><title>%s (%v, %.2f%%)</title><rect x="%.2f" y="%.0f" width="%.2f" height="%d" fill="rgb(%d,%d,%d)" rx="1"/>`,
		html.EscapeString(n.Key.String()), n.Value, profile.Percent(n.Value, r.total),
		x, y, width, svgFrameHeight-1, red, green, blue)
	if label := fitLabel(n.Key.Name, width); label != "" {
		r.printf(`<text x="%.2f" y="%.0f">%s</text>`, x+3, y+svgFrameHeight-4, html.EscapeString(label))
	}
	r.printf("</g>\n")

	for _, c := range n.SortedChildren() {
		r.frame(c, x, depth+1)
		x += float64(c.Value) * r.scale
	}
}

// fitLabel shortens name to the characters that fit in width pixels.
func fitLabel(name string, width float64) string {
	fits := int((width - 6) / svgCharWidth)
	switch {
	case fits >= len(name):
		return name
	case fits < 4:
		return ""
	default:
		return name[:fits-2] + ".."
	}
}

// frameColor picks a stable colour for a function from its name.
func frameColor(name string, scheme string) (int, int, int) {
	h := xxh3.HashString(name)
	v1, v2 := int(h%64), int((h>>8)%64)
	switch scheme {
	case "cold":
		return 40 + v1, 110 + v2, 200 + v1/2
	case "mem":
		return 40 + v1/2, 170 + v2, 40 + v1
	default:
		return 205 + v1/2, 80 + v2*2, 40 + v1/2
	}
}
