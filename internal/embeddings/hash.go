// Package embeddings vectorizes item text through a content-addressed
// cache, so identical content across zones costs one provider call.
package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ContentHash derives the cache key of an item's embeddable content:
// sha256 over the normalized text, the author handle and the sorted
// hashtag set, pipe-separated. Two items with the same content hash
// embed to the same vector.
func ContentHash(text, authorHandle string, hashtags []string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")

	tags := make([]string, 0, len(hashtags))
	for _, tag := range hashtags {
		tag = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)

	var b strings.Builder
	b.WriteString(normalized)
	b.WriteByte('|')
	b.WriteString(strings.ToLower(authorHandle))
	b.WriteByte('|')
	b.WriteString(strings.Join(tags, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
