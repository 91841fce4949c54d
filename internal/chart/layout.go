// Package chart lays out lineage charts as static trees. The layout is a pure
// function of its input: identical nodes, links and width always produce the
// identical drawing.
package chart

import (
	"math"
	"strings"

	"lineage/api/internal/validity"
)

// Node is a person in the chart.
type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Link is a source to target relation: the officiant and the person they
// ordained or consecrated.
type Link struct {
	Source string        `json:"source"`
	Target string        `json:"target"`
	Kind   validity.Kind `json:"kind"`
}

// Options tune the drawing. Zero fields take the defaults.
type Options struct {
	Padding    float64
	Baseline   float64
	Stagger    float64
	WrapWidth  int
	LineHeight float64
	Radius     float64
	LabelGap   float64
}

func DefaultOptions() Options {
	return Options{
		Padding:    40,
		Baseline:   60,
		Stagger:    70,
		WrapWidth:  18,
		LineHeight: 12,
		Radius:     6,
		LabelGap:   4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Padding <= 0 {
		o.Padding = d.Padding
	}
	if o.Baseline <= 0 {
		o.Baseline = d.Baseline
	}
	if o.Stagger <= 0 {
		o.Stagger = d.Stagger
	}
	if o.WrapWidth <= 0 {
		o.WrapWidth = d.WrapWidth
	}
	if o.LineHeight <= 0 {
		o.LineHeight = d.LineHeight
	}
	if o.Radius <= 0 {
		o.Radius = d.Radius
	}
	if o.LabelGap <= 0 {
		o.LabelGap = d.LabelGap
	}
	return o
}

// Anchor says which side of the node its label is drawn on.
type Anchor string

const (
	AnchorAbove Anchor = "above"
	AnchorBelow Anchor = "below"
)

// Placed is a positioned node with its wrapped label. LabelY is the baseline of
// the first label line; later lines follow at LineHeight intervals.
type Placed struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Generation int      `json:"generation"`
	Parent     string   `json:"parent,omitempty"`
	Label      []string `json:"label"`
	Anchor     Anchor   `json:"anchor"`
	LabelY     float64  `json:"labelY"`
}

// Edge is a straight line between two placed nodes, trimmed to the node
// circles.
type Edge struct {
	Source string        `json:"source"`
	Target string        `json:"target"`
	Kind   validity.Kind `json:"kind"`
	Color  string        `json:"color"`
	Marker string        `json:"marker"`
	X1     float64       `json:"x1"`
	Y1     float64       `json:"y1"`
	X2     float64       `json:"x2"`
	Y2     float64       `json:"y2"`
}

// Result is a finished layout.
type Result struct {
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Roots      []string `json:"roots"`
	Nodes      []Placed `json:"nodes"`
	Edges      []Edge   `json:"edges"`
	Radius     float64  `json:"radius"`
	LineHeight float64  `json:"lineHeight"`
}

// Colors and markers per relation kind.
var (
	kindColors = map[validity.Kind]string{
		validity.KindOrdination:   "#4a90d9",
		validity.KindConsecration: "#d4a017",
	}
	kindMarkers = map[validity.Kind]string{
		validity.KindOrdination:   "arrow-ordination",
		validity.KindConsecration: "arrow-consecration",
	}
)

func normalizeKind(k validity.Kind) validity.Kind {
	if k == validity.KindConsecration {
		return validity.KindConsecration
	}
	return validity.KindOrdination
}

type treeNode struct {
	index      int
	children   []int
	parent     int
	generation int
	slot       int
}

// Layout places every node exactly once. Nodes that are never a link target are
// roots; when every node is a target the first node is used. Nodes left
// unreached from the roots (cycles) become further roots in input order. All
// roots hang under one invisible root, so the forest is laid out as one tree.
func Layout(nodes []Node, links []Link, width float64, opts Options) Result {
	opts = opts.withDefaults()
	res := Result{
		Width:      width,
		Height:     opts.Baseline + opts.Stagger + opts.Padding,
		Roots:      []string{},
		Nodes:      []Placed{},
		Edges:      []Edge{},
		Radius:     opts.Radius,
		LineHeight: opts.LineHeight,
	}

	uniq := make([]Node, 0, len(nodes))
	index := make(map[string]int, len(nodes))
	for _, n := range nodes {
		if _, dup := index[n.ID]; dup {
			continue
		}
		index[n.ID] = len(uniq)
		uniq = append(uniq, n)
	}
	if len(uniq) == 0 {
		return res
	}

	valid := make([]Link, 0, len(links))
	targeted := make([]bool, len(uniq))
	adjacency := make([][]int, len(uniq))
	for _, l := range links {
		s, okS := index[l.Source]
		t, okT := index[l.Target]
		if !okS || !okT || s == t {
			continue
		}
		valid = append(valid, l)
		targeted[t] = true
		adjacency[s] = append(adjacency[s], t)
	}

	tree := make([]treeNode, len(uniq))
	for i := range tree {
		tree[i] = treeNode{index: i, parent: -1, generation: -1}
	}

	var roots []int
	for i := range uniq {
		if !targeted[i] {
			roots = append(roots, i)
		}
	}
	if len(roots) == 0 {
		roots = []int{0}
	}

	visited := make([]bool, len(uniq))
	bfs := func(start []int) {
		queue := append([]int(nil), start...)
		for _, r := range start {
			visited[r] = true
			tree[r].generation = 0
		}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, child := range adjacency[cur] {
				if visited[child] {
					continue
				}
				visited[child] = true
				tree[child].parent = cur
				tree[child].generation = tree[cur].generation + 1
				tree[cur].children = append(tree[cur].children, child)
				queue = append(queue, child)
			}
		}
	}
	bfs(roots)
	for i := range uniq {
		if !visited[i] {
			roots = append(roots, i)
			bfs([]int{i})
		}
	}

	// Preorder slots: a node sits left of its whole subtree. Leaf children
	// come first so only the subtrees that branch on sit under the fan of
	// their parent's edges.
	slot := 0
	var visit func(i int)
	visit = func(i int) {
		tree[i].slot = slot
		slot++
		children := tree[i].children
		for _, c := range children {
			if len(tree[c].children) == 0 {
				visit(c)
			}
		}
		for _, c := range children {
			if len(tree[c].children) > 0 {
				visit(c)
			}
		}
	}
	for _, r := range roots {
		visit(r)
	}

	count := len(uniq)
	step := 0.0
	if count > 1 {
		step = math.Max((width-2*opts.Padding)/float64(count-1), 1)
	}

	maxLines := 1
	res.Nodes = make([]Placed, count)
	for i, n := range uniq {
		tn := tree[i]
		x := width / 2
		if count > 1 {
			x = opts.Padding + float64(tn.slot)*step
		}
		y := opts.Baseline + float64(tn.generation%2)*opts.Stagger

		label := Wrap(n.Name, opts.WrapWidth)
		if len(label) > maxLines {
			maxLines = len(label)
		}
		anchor := AnchorAbove
		labelY := y - opts.Radius - opts.LabelGap - float64(len(label)-1)*opts.LineHeight
		if tn.generation%2 == 1 {
			anchor = AnchorBelow
			labelY = y + opts.Radius + opts.LabelGap + opts.LineHeight
		}

		parent := ""
		if tn.parent >= 0 {
			parent = uniq[tn.parent].ID
		}
		res.Nodes[i] = Placed{
			ID:         n.ID,
			Name:       n.Name,
			X:          x,
			Y:          y,
			Generation: tn.generation,
			Parent:     parent,
			Label:      label,
			Anchor:     anchor,
			LabelY:     labelY,
		}
	}
	for _, r := range roots {
		res.Roots = append(res.Roots, uniq[r].ID)
	}

	for _, l := range valid {
		from := res.Nodes[index[l.Source]]
		to := res.Nodes[index[l.Target]]
		kind := normalizeKind(l.Kind)
		x1, y1, x2, y2 := trim(from.X, from.Y, to.X, to.Y, opts.Radius)
		res.Edges = append(res.Edges, Edge{
			Source: l.Source,
			Target: l.Target,
			Kind:   kind,
			Color:  kindColors[kind],
			Marker: kindMarkers[kind],
			X1:     x1,
			Y1:     y1,
			X2:     x2,
			Y2:     y2,
		})
	}

	res.Height = opts.Baseline + opts.Stagger + opts.Radius + opts.LabelGap +
		float64(maxLines)*opts.LineHeight + opts.Padding
	return res
}

// trim shortens a segment by r at both ends so it meets the node circles.
func trim(x1, y1, x2, y2, r float64) (float64, float64, float64, float64) {
	dx, dy := x2-x1, y2-y1
	dist := math.Hypot(dx, dy)
	if dist <= 2*r {
		return x1, y1, x2, y2
	}
	ux, uy := dx/dist, dy/dist
	return x1 + ux*r, y1 + uy*r, x2 - ux*r, y2 - uy*r
}

// Wrap breaks text into lines of at most width characters at word boundaries.
// A word longer than width gets a line of its own.
func Wrap(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}
	var lines []string
	current := words[0]
	for _, w := range words[1:] {
		if len([]rune(current))+1+len([]rune(w)) > width {
			lines = append(lines, current)
			current = w
			continue
		}
		current += " " + w
	}
	return append(lines, current)
}
