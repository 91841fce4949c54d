package chart

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"lineage/api/internal/validity"
)

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RenderSVG draws a layout as a standalone SVG document.
func RenderSVG(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" class="lineage-chart" width="%s" height="%s" viewBox="0 0 %s %s">`,
		num(res.Width), num(res.Height), num(res.Width), num(res.Height))
	b.WriteString("<defs>")
	for _, kind := range []validity.Kind{validity.KindOrdination, validity.KindConsecration} {
		fmt.Fprintf(&b, `<marker id="%s" viewBox="0 -5 10 10" refX="10" refY="0" markerWidth="6" markerHeight="6" orient="auto"><path d="M0,-5L10,0L0,5" fill="%s"/></marker>`,
			kindMarkers[kind], kindColors[kind])
	}
	b.WriteString("</defs>")

	b.WriteString(`<g class="edges">`)
	for _, e := range res.Edges {
		fmt.Fprintf(&b, `<line class="edge %s" x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s" stroke-width="1.5" marker-end="url(#%s)"/>`,
			e.Kind, num(e.X1), num(e.Y1), num(e.X2), num(e.Y2), e.Color, e.Marker)
	}
	b.WriteString("</g>")

	b.WriteString(`<g class="nodes">`)
	for _, n := range res.Nodes {
		fmt.Fprintf(&b, `<g class="node" data-id="%s">`, html.EscapeString(n.ID))
		fmt.Fprintf(&b, `<circle cx="%s" cy="%s" r="%s"/>`, num(n.X), num(n.Y), num(res.Radius))
		fmt.Fprintf(&b, `<text x="%s" y="%s" text-anchor="middle" class="label %s">`, num(n.X), num(n.LabelY), n.Anchor)
		for i, line := range n.Label {
			dy := "0"
			if i > 0 {
				dy = num(res.LineHeight)
			}
			fmt.Fprintf(&b, `<tspan x="%s" dy="%s">%s</tspan>`, num(n.X), dy, html.EscapeString(line))
		}
		b.WriteString("</text></g>")
	}
	b.WriteString("</g></svg>")
	return b.String()
}
