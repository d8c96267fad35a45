package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// timeLayout is how timestamps are kept in SQLite text columns.
const timeLayout = time.RFC3339Nano

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new API key
func generateAPIKey() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return fmt.Sprintf("cs_key_%s", hex.EncodeToString(b))
}

// hashAPIKey hashes an API key for storage
func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// parseCursor decodes a scan list cursor, the sequence number of the last
// scan on the previous page.
func parseCursor(cursor string) (int64, error) {
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq <= 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}

func formatCursor(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

// prepareScan fills the generated fields of a scan before insert.
func prepareScan(scan *Scan) {
	if scan.ID == "" {
		scan.ID = generateID()
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = time.Now().UTC()
	}
	scan.Matched = len(scan.Findings)
}

// paginate trims a limit+1 result set and derives the next cursor.
func paginate(scans []Scan, seqs []int64, limit int) *PaginatedResult[Scan] {
	result := &PaginatedResult[Scan]{Data: scans}
	if len(scans) > limit {
		result.Data = scans[:limit]
		result.HasMore = true
		result.NextCursor = formatCursor(seqs[limit-1])
	}
	if result.Data == nil {
		result.Data = []Scan{}
	}
	return result
}
