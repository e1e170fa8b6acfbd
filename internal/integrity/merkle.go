// Package integrity builds hourly Merkle commitments over claim scores and
// holds the pure math used to detect drift from them.
package integrity

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// ErrLeafNotFound is returned when a proof is requested for a claim that is
// not part of the snapshot.
var ErrLeafNotFound = errors.New("leaf not found in snapshot")

// EmptyRoot is the root of a snapshot with no claims: keccak256("[]").
var EmptyRoot = "0x" + hex.EncodeToString(keccak([]byte("[]")))

// ScoreEntry is one claim's score at snapshot time.
type ScoreEntry struct {
	ClaimID string
	Score   float64
}

// Leaf is a committed claim score and its hash.
type Leaf struct {
	ClaimID  string  `json:"claim_id"`
	Score    float64 `json:"score"`
	LeafHash string  `json:"leaf_hash"`
}

// Snapshot is a built tree: the root plus the leaves in tree order.
type Snapshot struct {
	RootHash  string    `json:"root_hash"`
	Timestamp time.Time `json:"timestamp"`
	Leaves    []Leaf    `json:"leaves"`
}

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Hash string `json:"hash"`
}

type leafPayload struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	Timestamp int64   `json:"timestamp"`
}

func keccak(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// LeafHash hashes {"id","score","timestamp"} as compact JSON with Keccak-256.
// unix is the snapshot time in seconds.
func LeafHash(claimID string, score float64, unix int64) []byte {
	// Marshal of a flat struct of string/float/int cannot fail.
	b, _ := json.Marshal(leafPayload{ID: claimID, Score: score, Timestamp: unix})
	return keccak(b)
}

// hashPair hashes two nodes in byte order so that a verifier does not need to
// know which side a sibling sits on.
func hashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return keccak(a, b)
}

// BuildSnapshot commits to entries as of at. Leaves are sorted by hash before
// the tree is built, so the root does not depend on input order. An odd node
// at any level is carried up unchanged.
func BuildSnapshot(entries []ScoreEntry, at time.Time) Snapshot {
	at = at.UTC()
	snap := Snapshot{Timestamp: at, Leaves: make([]Leaf, 0, len(entries))}
	if len(entries) == 0 {
		snap.RootHash = EmptyRoot
		return snap
	}

	unix := at.Unix()
	hashes := make([][]byte, len(entries))
	for i, e := range entries {
		h := LeafHash(e.ClaimID, e.Score, unix)
		hashes[i] = h
		snap.Leaves = append(snap.Leaves, Leaf{ClaimID: e.ClaimID, Score: e.Score, LeafHash: hex.EncodeToString(h)})
	}
	sort.Sort(byHash{leaves: snap.Leaves, hashes: hashes})

	snap.RootHash = "0x" + hex.EncodeToString(root(hashes))
	return snap
}

type byHash struct {
	leaves []Leaf
	hashes [][]byte
}

func (s byHash) Len() int           { return len(s.hashes) }
func (s byHash) Less(i, j int) bool { return bytes.Compare(s.hashes[i], s.hashes[j]) < 0 }
func (s byHash) Swap(i, j int) {
	s.hashes[i], s.hashes[j] = s.hashes[j], s.hashes[i]
	s.leaves[i], s.leaves[j] = s.leaves[j], s.leaves[i]
}

func root(level [][]byte) []byte {
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

func nextLevel(level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 == len(level) {
			next = append(next, level[i])
			continue
		}
		next = append(next, hashPair(level[i], level[i+1]))
	}
	return next
}

// RootFromLeaves rebuilds the root from stored leaf hashes (hex, any order).
func RootFromLeaves(leafHashes []string) (string, error) {
	if len(leafHashes) == 0 {
		return EmptyRoot, nil
	}
	hashes, err := decodeSorted(leafHashes)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(root(hashes)), nil
}

// Proof returns the sibling path for target among the stored leaf hashes.
func Proof(leafHashes []string, target string) ([]ProofStep, error) {
	hashes, err := decodeSorted(leafHashes)
	if err != nil {
		return nil, err
	}
	want, err := decodeHash(target)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, h := range hashes {
		if bytes.Equal(h, want) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrLeafNotFound
	}

	steps := []ProofStep{}
	level := hashes
	for len(level) > 1 {
		sib := idx ^ 1
		if sib < len(level) {
			steps = append(steps, ProofStep{Hash: hex.EncodeToString(level[sib])})
		}
		level = nextLevel(level)
		idx /= 2
	}
	return steps, nil
}

// VerifyProof folds the proof into leaf and compares against rootHash.
func VerifyProof(rootHash, leaf string, proof []ProofStep) bool {
	cur, err := decodeHash(leaf)
	if err != nil {
		return false
	}
	for _, step := range proof {
		sib, err := decodeHash(step.Hash)
		if err != nil {
			return false
		}
		cur = hashPair(cur, sib)
	}
	want, err := decodeHash(rootHash)
	if err != nil {
		return false
	}
	return bytes.Equal(cur, want)
}

func decodeSorted(leafHashes []string) ([][]byte, error) {
	hashes := make([][]byte, len(leafHashes))
	for i, s := range leafHashes {
		h, err := decodeHash(s)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i], hashes[j]) < 0 })
	return hashes, nil
}

func decodeHash(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
