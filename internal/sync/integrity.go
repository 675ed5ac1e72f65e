package sync

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/and161185/gokeeper-core/internal/crypto/provider"
	"github.com/and161185/gokeeper-core/internal/item"
)

// IntegrityHash implements the integrity hash (spec §6): SHA-256 hex
// digest of updated_at unix timestamps, comma-joined, over all non-deleted,
// non-dummy items sorted by updated_at descending. Must match the
// server's computation over the same set.
func IntegrityHash(items []*item.Item) string {
	dates := make([]int64, 0, len(items))
	for _, it := range items {
		if it.IsDummy() || it.Deleted() {
			continue
		}
		dates = append(dates, it.Payload().UpdatedAt().Unix())
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] > dates[j] })

	strs := make([]string, len(dates))
	for i, d := range dates {
		strs[i] = strconv.FormatInt(d, 10)
	}
	sum := provider.SHA256([]byte(strings.Join(strs, ",")))
	return hex.EncodeToString(sum[:])
}
