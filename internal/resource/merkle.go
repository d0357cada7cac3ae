package resource

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashBytes returns the hex encoded blake2b-256 digest of data.
func HashBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CombineHashes hashes an ordered list of hex digests into one digest.
func CombineHashes(hashes []string) string {
	h, _ := blake2b.New256(nil)
	for _, s := range hashes {
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func nodeHash(n Node) string {
	switch n.Kind {
	case ContentResource:
		if n.Resource == nil {
			return HashBytes(nil)
		}
		n.Resource.UpdateMerkleRoot()
		return n.Resource.MerkleRoot
	default:
		return HashBytes([]byte(n.Text))
	}
}

// UpdateMerkleRoot recomputes every node hash and the root. The root depends
// only on node content and order, never on names, descriptions or ids.
func (r *Resource) UpdateMerkleRoot() {
	hashes := make([]string, len(r.Nodes))
	for i := range r.Nodes {
		r.Nodes[i].MerkleHash = nodeHash(r.Nodes[i])
		hashes[i] = r.Nodes[i].MerkleHash
	}
	r.MerkleRoot = CombineHashes(hashes)
}

// VerifyMerkleRoot reports whether the stored root matches the content.
func (r *Resource) VerifyMerkleRoot() bool {
	stored := r.MerkleRoot
	check := r.Clone()
	check.UpdateMerkleRoot()
	return check.MerkleRoot == stored
}
