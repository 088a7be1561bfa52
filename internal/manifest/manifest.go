// Package manifest synthesizes HLS playlists and DASH MPD documents from
// per-rendition segment inventories. Generation is a pure function of its
// inputs: identical inventories produce byte-identical output.
package manifest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gwlsn/streampack/internal/encoder"
	"github.com/gwlsn/streampack/internal/ladder"
)

// Sentinel errors for manifest generation. Both indicate upstream encode
// inconsistency and are fatal to the job: retrying without a re-encode
// cannot fix them.
var (
	ErrEmptyInventorySet        = errors.New("empty inventory set")
	ErrInconsistentSegmentCount = errors.New("inconsistent segment count across renditions")
)

// rendition pairs a profile with its inventory for ordered traversal.
type rendition struct {
	profile   ladder.Profile
	inventory *encoder.SegmentInventory
}

// validateSet checks the inventory set as a whole and returns renditions in
// descending bandwidth order (name-ascending tiebreak). Renditions may
// disagree in segment count by at most one segment; a larger spread signals
// a partial or corrupt encode that must not be published.
func validateSet(inventories map[string]*encoder.SegmentInventory, l ladder.Ladder) ([]rendition, error) {
	if len(inventories) == 0 {
		return nil, ErrEmptyInventorySet
	}

	var rns []rendition
	for name, inv := range inventories {
		profile, ok := l.Get(name)
		if !ok {
			return nil, fmt.Errorf("inventory for unknown profile %q", name)
		}
		if err := inv.Validate(); err != nil {
			return nil, err
		}
		rns = append(rns, rendition{profile: profile, inventory: inv})
	}

	minCount, maxCount := rns[0].inventory.SegmentCount, rns[0].inventory.SegmentCount
	for _, r := range rns[1:] {
		if c := r.inventory.SegmentCount; c < minCount {
			minCount = c
		} else if c > maxCount {
			maxCount = c
		}
	}
	if maxCount-minCount > 1 {
		return nil, fmt.Errorf("%w: counts range from %d to %d",
			ErrInconsistentSegmentCount, minCount, maxCount)
	}

	sort.SliceStable(rns, func(i, j int) bool {
		bi, bj := rns[i].profile.Bandwidth(), rns[j].profile.Bandwidth()
		if bi != bj {
			return bi > bj
		}
		return rns[i].profile.Name < rns[j].profile.Name
	})
	return rns, nil
}
