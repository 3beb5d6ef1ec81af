// Package matching associates roadside detectors with network links. A
// detector names the street it sits on; among the links carrying that
// name the nearest one wins, with bidirectional twins disambiguated by
// the detector's signposted direction.
package matching

import (
	"math"
	"sort"
	"strings"
)

// Point is a planar coordinate in the network's projection.
type Point struct {
	X, Y float64
}

// Dist returns the euclidean distance to q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Node is a network node.
type Node struct {
	ID string
	Pt Point
}

// Link is a directed network link, modelled as the straight segment
// between its end nodes.
type Link struct {
	ID       string
	Name     string
	From, To string
}

// Detector is one counting station to be matched.
type Detector struct {
	ID        string
	Pt        Point
	Street    string
	Direction string
}

// Match is the outcome for one detector. LinkID is empty when no
// candidate link exists or the tie could not be broken.
type Match struct {
	Detector Detector
	LinkID   string
	Distance float64
}

// Network indexes links by street name for matching.
type Network struct {
	nodes  map[string]Point
	byName map[string][]Link
}

// NewNetwork builds the matching index. Links referencing unknown nodes
// are dropped, as are links without a street name.
func NewNetwork(links []Link, nodes []Node) *Network {
	n := &Network{
		nodes:  make(map[string]Point, len(nodes)),
		byName: make(map[string][]Link),
	}
	for _, node := range nodes {
		n.nodes[node.ID] = node.Pt
	}
	for _, link := range links {
		if link.Name == "" {
			continue
		}
		if _, ok := n.nodes[link.From]; !ok {
			continue
		}
		if _, ok := n.nodes[link.To]; !ok {
			continue
		}
		key := nameKey(link.Name)
		n.byName[key] = append(n.byName[key], link)
	}
	return n
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// segmentDist returns the distance from p to the segment ab.
func segmentDist(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	len2 := dx*dx + dy*dy
	if len2 == 0 {
		return p.Dist(a)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / len2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return p.Dist(Point{a.X + t*dx, a.Y + t*dy})
}

// Closest matches one detector. directions maps a direction label to its
// reference point; it is only consulted for two-way ties.
func (n *Network) Closest(d Detector, directions map[string]Point) Match {
	candidates := n.byName[nameKey(d.Street)]
	if len(candidates) == 0 {
		return Match{Detector: d, Distance: math.NaN()}
	}

	best := math.Inf(1)
	var ties []Link
	for _, link := range candidates {
		dist := segmentDist(d.Pt, n.nodes[link.From], n.nodes[link.To])
		switch {
		case dist < best:
			best = dist
			ties = ties[:0]
			ties = append(ties, link)
		case dist == best:
			ties = append(ties, link)
		}
	}

	switch len(ties) {
	case 1:
		return Match{Detector: d, LinkID: ties[0].ID, Distance: best}
	case 2:
		// Superimposed links of a bidirectional street. The link headed
		// toward the signposted direction has its to-node nearer to the
		// direction's reference point.
		ref, ok := directions[d.Direction]
		if !ok {
			return Match{Detector: d, Distance: best}
		}
		sort.SliceStable(ties, func(i, j int) bool {
			return n.nodes[ties[i].To].Dist(ref) < n.nodes[ties[j].To].Dist(ref)
		})
		return Match{Detector: d, LinkID: ties[0].ID, Distance: best}
	default:
		return Match{Detector: d, Distance: best}
	}
}

// MatchAll matches every detector in order.
func (n *Network) MatchAll(detectors []Detector, directions map[string]Point) []Match {
	matches := make([]Match, len(detectors))
	for i, d := range detectors {
		matches[i] = n.Closest(d, directions)
	}
	return matches
}
