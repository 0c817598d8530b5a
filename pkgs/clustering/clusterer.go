package clustering

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

const (
	// EmptyMerkleRoot is the sentinel root for an interval with no winners
	EmptyMerkleRoot = "empty"

	// Coordinate bounds in microdegrees
	MaxLatitudeMicrodeg  = 90_000_000
	MaxLongitudeMicrodeg = 180_000_000

	// DefaultGridCellSize is the cluster cell edge in microdegrees (~1.1 km)
	DefaultGridCellSize int32 = 10_000

	// DefaultMaxWinners caps winners per interval to bound downstream cost
	DefaultMaxWinners = 100

	// MinClusterSize is the minimum participants for a cluster to produce a winner
	MinClusterSize = 2
)

// Submission is a single raw location report from an edge collector.
// Coordinates are fixed-point microdegrees; Timestamp is epoch milliseconds.
type Submission struct {
	UID       uint64 `json:"uid"`
	Lat       int32  `json:"lat"`
	Lon       int32  `json:"lon"`
	Timestamp uint64 `json:"t"`
}

// ClusterWinner is the single deterministic winner selected from one grid cell.
type ClusterWinner struct {
	UID          uint64 `json:"uid"`
	GridX        int64  `json:"grid_x"`
	GridY        int64  `json:"grid_y"`
	Participants uint32 `json:"participants"`
}

// cellKey identifies one grid cell
type cellKey struct {
	x int64
	y int64
}

// Clusterer partitions submissions into grid cells and selects per-cell winners.
// It is a pure computation: identical input multisets always produce identical
// winners and merkle root, regardless of input order.
type Clusterer struct {
	cellSize   int32
	maxWinners int
}

// NewClusterer creates a clusterer with the given cell size (microdegrees)
// and winner cap. Zero or negative arguments fall back to defaults.
func NewClusterer(cellSize int32, maxWinners int) *Clusterer {
	if cellSize <= 0 {
		cellSize = DefaultGridCellSize
	}
	if maxWinners <= 0 {
		maxWinners = DefaultMaxWinners
	}
	return &Clusterer{
		cellSize:   cellSize,
		maxWinners: maxWinners,
	}
}

// Cluster groups submissions into grid cells, selects one winner per cell with
// at least MinClusterSize participants, and returns the capped winner list with
// its merkle root. Out-of-range coordinates are dropped silently.
func (c *Clusterer) Cluster(subs []Submission) ([]ClusterWinner, string) {
	cells := make(map[cellKey][]Submission)

	for _, sub := range subs {
		if !IsValidLocation(sub.Lat, sub.Lon) {
			continue
		}

		key := cellKey{
			x: int64(sub.Lat / c.cellSize),
			y: int64(sub.Lon / c.cellSize),
		}
		cells[key] = append(cells[key], sub)
	}

	// Stable iteration order: sort cell keys by x, then y. Map iteration order
	// must never leak into winner selection or the cap.
	keys := make([]cellKey, 0, len(cells))
	for key := range cells {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].x != keys[j].x {
			return keys[i].x < keys[j].x
		}
		return keys[i].y < keys[j].y
	})

	winners := make([]ClusterWinner, 0, len(keys))
	for _, key := range keys {
		group := cells[key]
		if len(group) < MinClusterSize {
			continue
		}

		// Submissions inside a cell are ordered by UID so the winner index is a
		// pure function of the multiset, not of arrival order.
		sort.Slice(group, func(i, j int) bool { return group[i].UID < group[j].UID })

		winner := group[selectWinnerIndex(key.x, key.y, len(group))]
		winners = append(winners, ClusterWinner{
			UID:          winner.UID,
			GridX:        key.x,
			GridY:        key.y,
			Participants: uint32(len(group)),
		})

		if len(winners) >= c.maxWinners {
			break
		}
	}

	return winners, ComputeMerkleRoot(winners)
}

// selectWinnerIndex picks the winner slot from cell coordinates and cluster
// size. Euclidean remainder keeps the index in [0, n) for negative cells.
func selectWinnerIndex(gridX, gridY int64, n int) int {
	idx := (gridX + gridY) % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return int(idx)
}

// IsValidLocation reports whether coordinates are inside geographic bounds
func IsValidLocation(lat, lon int32) bool {
	return lat >= -MaxLatitudeMicrodeg && lat <= MaxLatitudeMicrodeg &&
		lon >= -MaxLongitudeMicrodeg && lon <= MaxLongitudeMicrodeg
}

// ComputeMerkleRoot digests the ordered winner list into a hex-encoded root.
// Each winner is serialized as fixed-width big-endian fields and fed to a
// single incremental SHA-256. An empty list yields the sentinel root.
func ComputeMerkleRoot(winners []ClusterWinner) string {
	if len(winners) == 0 {
		return EmptyMerkleRoot
	}

	hasher := sha256.New()
	var buf [28]byte
	for _, w := range winners {
		binary.BigEndian.PutUint64(buf[0:8], w.UID)
		binary.BigEndian.PutUint64(buf[8:16], uint64(w.GridX))
		binary.BigEndian.PutUint64(buf[16:24], uint64(w.GridY))
		binary.BigEndian.PutUint32(buf[24:28], w.Participants)
		hasher.Write(buf[:])
	}

	return hex.EncodeToString(hasher.Sum(nil))
}
