package translog

import (
	"fmt"
	"io"
	"sort"
)

// PrintSummary writes a human-readable reconciliation of snap to w:
// per-file owned ranges, invalidated files, and totals. This is the
// operator-facing half of the parse-and-print diagnostic mode; Read
// alone only produces the machine-usable Snapshot.
func PrintSummary(w io.Writer, snap *Snapshot) error {
	fmt.Fprintf(w, "transfer log: sender=%s transfer=%s block_size=%d checksum=%v\n",
		snap.Header.SenderID, snap.Header.TransferID, snap.Header.BlockSize, snap.Header.EnableChecksum)

	seqIDs := make([]int64, 0, len(snap.Owned))
	for seqID := range snap.Owned {
		seqIDs = append(seqIDs, seqID)
	}
	sort.Slice(seqIDs, func(i, j int) bool { return seqIDs[i] < seqIDs[j] })

	var totalOwned int64
	for _, seqID := range seqIDs {
		var fileTotal int64
		for _, rng := range snap.Owned[seqID] {
			fileTotal += rng.Len()
		}
		totalOwned += fileTotal
		fmt.Fprintf(w, "  file seq=%d ranges=%d owned_bytes=%d\n", seqID, len(snap.Owned[seqID]), fileTotal)
	}

	invalidIDs := make([]int64, 0, len(snap.Invalidated))
	for seqID := range snap.Invalidated {
		invalidIDs = append(invalidIDs, seqID)
	}
	sort.Slice(invalidIDs, func(i, j int) bool { return invalidIDs[i] < invalidIDs[j] })
	for _, seqID := range invalidIDs {
		fmt.Fprintf(w, "  file seq=%d INVALIDATED\n", seqID)
	}

	fmt.Fprintf(w, "total: %d files owned, %d files invalidated, %d bytes owned\n",
		len(seqIDs), len(invalidIDs), totalOwned)
	return nil
}
