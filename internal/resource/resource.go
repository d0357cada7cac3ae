// Package resource defines vector resources: named, embedded content units
// made of ordered nodes, with a merkle root summarizing their content.
package resource

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for resource construction.
var (
	// ErrEmptyEmbedding is returned when a node or resource embedding has no values.
	ErrEmptyEmbedding = errors.New("embedding is empty")

	// ErrDimensionMismatch is returned when embeddings of different sizes are mixed.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNilResource is returned when a nested resource is nil.
	ErrNilResource = errors.New("resource is nil")
)

// Kind distinguishes ordered document resources from keyed map resources.
type Kind string

const (
	// KindDocument keeps nodes in insertion order with numeric ids.
	KindDocument Kind = "document"
	// KindMap keys nodes by caller-supplied ids.
	KindMap Kind = "map"
)

// ContentKind tags the variant held by a Node.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentResource ContentKind = "resource"
)

// Embedding is a vector with an identifier.
type Embedding struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
}

// Clone returns a deep copy.
func (e Embedding) Clone() Embedding {
	return Embedding{ID: e.ID, Vector: append([]float32(nil), e.Vector...)}
}

// Node is one embeddable chunk of a resource. Content is either Text or a
// nested Resource, as selected by Kind.
type Node struct {
	ID         string            `json:"id"`
	Kind       ContentKind       `json:"kind"`
	Text       string            `json:"text,omitempty"`
	Resource   *Resource         `json:"resource,omitempty"`
	Embedding  Embedding         `json:"embedding"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	MerkleHash string            `json:"merkle_hash"`
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	out.Embedding = n.Embedding.Clone()
	out.Metadata = cloneStrings(n.Metadata)
	if n.Resource != nil {
		out.Resource = n.Resource.Clone()
	}
	return out
}

// Resource is a content unit of embedded nodes plus aggregate metadata.
type Resource struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Source         string            `json:"source,omitempty"`
	ResourceID     string            `json:"resource_id"`
	ReferenceID    string            `json:"reference_id"`
	Kind           Kind              `json:"kind"`
	Keywords       []string          `json:"keywords,omitempty"`
	Embedding      Embedding         `json:"embedding"`
	EmbeddingModel string            `json:"embedding_model"`
	Nodes          []Node            `json:"nodes"`
	MerkleRoot     string            `json:"merkle_root"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastWrittenAt  time.Time         `json:"last_written_at"`
}

// New creates an empty resource with fresh resource and reference ids.
func New(name, description, source string, kind Kind) *Resource {
	if kind == "" {
		kind = KindDocument
	}
	now := time.Now().UTC()
	r := &Resource{
		Name:          name,
		Description:   description,
		Source:        source,
		ResourceID:    uuid.NewString(),
		ReferenceID:   uuid.NewString(),
		Kind:          kind,
		Nodes:         []Node{},
		CreatedAt:     now,
		LastWrittenAt: now,
	}
	r.UpdateMerkleRoot()
	return r
}

// SetEmbedding sets the resource-level (header) embedding.
func (r *Resource) SetEmbedding(vector []float32, model string) error {
	if len(vector) == 0 {
		return ErrEmptyEmbedding
	}
	r.Embedding = Embedding{ID: "RE", Vector: append([]float32(nil), vector...)}
	r.EmbeddingModel = model
	return nil
}

// AppendText adds a text node. For map resources id must be set; document
// resources number their nodes sequentially and ignore id.
func (r *Resource) AppendText(id, text string, vector []float32, metadata map[string]string) error {
	return r.appendNode(Node{
		ID:        id,
		Kind:      ContentText,
		Text:      text,
		Embedding: Embedding{Vector: append([]float32(nil), vector...)},
		Metadata:  cloneStrings(metadata),
	})
}

// AppendResource nests child as a node of r.
func (r *Resource) AppendResource(id string, child *Resource, metadata map[string]string) error {
	if child == nil {
		return ErrNilResource
	}
	return r.appendNode(Node{
		ID:        id,
		Kind:      ContentResource,
		Resource:  child,
		Embedding: child.Embedding.Clone(),
		Metadata:  cloneStrings(metadata),
	})
}

func (r *Resource) appendNode(n Node) error {
	if len(n.Embedding.Vector) == 0 {
		return fmt.Errorf("%w: node %q", ErrEmptyEmbedding, n.ID)
	}
	if len(r.Embedding.Vector) > 0 && len(r.Embedding.Vector) != len(n.Embedding.Vector) {
		return fmt.Errorf("%w: resource %d, node %d", ErrDimensionMismatch, len(r.Embedding.Vector), len(n.Embedding.Vector))
	}
	if r.Kind == KindDocument || n.ID == "" {
		n.ID = strconv.Itoa(len(r.Nodes) + 1)
	}
	n.Embedding.ID = n.ID
	n.MerkleHash = nodeHash(n)
	r.Nodes = append(r.Nodes, n)
	r.LastWrittenAt = time.Now().UTC()
	r.UpdateMerkleRoot()
	return nil
}

// NodeCount returns the number of nodes in the resource, including nodes of
// nested resources.
func (r *Resource) NodeCount() int {
	count := 0
	for _, n := range r.Nodes {
		count++
		if n.Kind == ContentResource && n.Resource != nil {
			count += n.Resource.NodeCount()
		}
	}
	return count
}

// ReferenceString identifies this particular saved copy of the resource.
func (r *Resource) ReferenceString() string {
	return r.Name + ":::" + r.ReferenceID
}

// Clone returns a deep copy that shares no mutable state with r.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	out := *r
	out.Keywords = append([]string(nil), r.Keywords...)
	out.Embedding = r.Embedding.Clone()
	out.Metadata = cloneStrings(r.Metadata)
	out.Nodes = make([]Node, len(r.Nodes))
	for i, n := range r.Nodes {
		out.Nodes[i] = n.Clone()
	}
	return &out
}

// WithNewReference returns a deep copy carrying a fresh reference id. The
// merkle root and node count are unchanged.
func (r *Resource) WithNewReference() *Resource {
	out := r.Clone()
	out.ReferenceID = uuid.NewString()
	return out
}

// Header returns the lightweight metadata and embedding of the resource.
func (r *Resource) Header() Header {
	return Header{
		Name:           r.Name,
		Description:    r.Description,
		Source:         r.Source,
		ResourceID:     r.ResourceID,
		ReferenceID:    r.ReferenceID,
		Kind:           r.Kind,
		Keywords:       append([]string(nil), r.Keywords...),
		Embedding:      r.Embedding.Clone(),
		EmbeddingModel: r.EmbeddingModel,
		MerkleRoot:     r.MerkleRoot,
		CreatedAt:      r.CreatedAt,
		LastWrittenAt:  r.LastWrittenAt,
	}
}

// EmbeddingModels returns every model used by r and its nested resources.
func (r *Resource) EmbeddingModels() []string {
	seen := map[string]bool{}
	var out []string
	var walk func(*Resource)
	walk = func(res *Resource) {
		if res.EmbeddingModel != "" && !seen[res.EmbeddingModel] {
			seen[res.EmbeddingModel] = true
			out = append(out, res.EmbeddingModel)
		}
		for _, n := range res.Nodes {
			if n.Kind == ContentResource && n.Resource != nil {
				walk(n.Resource)
			}
		}
	}
	walk(r)
	return out
}

// Header is the lightweight view of a resource used by header search.
type Header struct {
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Source         string    `json:"source,omitempty"`
	ResourceID     string    `json:"resource_id"`
	ReferenceID    string    `json:"reference_id"`
	Kind           Kind      `json:"kind"`
	Keywords       []string  `json:"keywords,omitempty"`
	Embedding      Embedding `json:"embedding"`
	EmbeddingModel string    `json:"embedding_model"`
	MerkleRoot     string    `json:"merkle_root"`
	CreatedAt      time.Time `json:"created_at"`
	LastWrittenAt  time.Time `json:"last_written_at"`
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
