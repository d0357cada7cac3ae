package resource

import (
	"math"
	"sort"
)

// RetrievedNode is a node returned by a search together with its score and
// the header of the resource it was found in.
type RetrievedNode struct {
	Node   Node    `json:"node"`
	Score  float32 `json:"score"`
	Header Header  `json:"header"`
	// IDPath holds the node ids from the top-level resource down to Node.
	IDPath []string `json:"id_path"`
}

// CosineSimilarity returns the cosine of the angle between a and b. Vectors
// of different length or zero magnitude score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// ScoreHeader scores the resource embedding against query.
func (r *Resource) ScoreHeader(query []float32) float32 {
	return CosineSimilarity(query, r.Embedding.Vector)
}

// ExhaustiveSearch scores every text node of r, descending into nested
// resources. A node inside a nested resource scores the average of its own
// similarity and the score of the node that holds the nested resource.
// Results are in traversal order.
func (r *Resource) ExhaustiveSearch(query []float32) []RetrievedNode {
	var out []RetrievedNode
	r.collect(query, nil, 0, false, &out)
	return out
}

func (r *Resource) collect(query []float32, prefix []string, parentScore float32, nested bool, out *[]RetrievedNode) {
	header := r.Header()
	for _, n := range r.Nodes {
		score := CosineSimilarity(query, n.Embedding.Vector)
		if nested {
			score = (score + parentScore) / 2
		}
		idPath := append(append([]string(nil), prefix...), n.ID)
		switch n.Kind {
		case ContentResource:
			if n.Resource != nil {
				n.Resource.collect(query, idPath, score, true, out)
			}
		case ContentText:
			*out = append(*out, RetrievedNode{
				Node:   n.Clone(),
				Score:  score,
				Header: header,
				IDPath: idPath,
			})
		}
	}
}

// VectorSearch returns the n highest scoring text nodes. Equal scores keep
// traversal order.
func (r *Resource) VectorSearch(query []float32, n int) []RetrievedNode {
	return TopNodes(r.ExhaustiveSearch(query), n)
}

// TopNodes sorts nodes by descending score, keeping the relative order of
// equal scores, and truncates to n. A non-positive n keeps everything.
func TopNodes(nodes []RetrievedNode, n int) []RetrievedNode {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Score > nodes[j].Score
	})
	if n > 0 && len(nodes) > n {
		nodes = nodes[:n]
	}
	return nodes
}

// HeaderWeightedScore folds the score of the containing resource into a node
// score, capping the bonus at 0.2.
func HeaderWeightedScore(nodeScore, resourceScore float32) float32 {
	bonus := resourceScore * 0.2
	if bonus > 0.2 {
		bonus = 0.2
	}
	return nodeScore + bonus
}
