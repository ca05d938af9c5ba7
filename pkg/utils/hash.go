package utils

import (
	"crypto/md5"
	"fmt"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// VectorID derives the deterministic id of one stored chunk embedding,
// unique per tenant+run+source+chunk.
func VectorID(tenantID, runID, sourceName string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", HashString(tenantID+"|"+runID+"|"+sourceName), chunkIndex)
}
