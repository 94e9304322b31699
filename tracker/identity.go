package tracker

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"rent-tracker/models"
)

// sourceIDRegexp captures the numeric posting ID from a willhaben detail URL,
// e.g. https://willhaben.at/iad/immobilien/d/mietwohnung/1234567890
var sourceIDRegexp = regexp.MustCompile(`/d/[^/]+/(\d+)`)

// nullMarker stands in for attributes the cleaner could not supply, so a
// fingerprint is always computable without silently dropping the record.
const nullMarker = "na"

// Identity holds the two keys derived for one snapshot record. Key is the
// tracking key (fingerprint, or the SourceID fallback when the fingerprint
// is degenerate); SourceID identifies the specific ad posting.
type Identity struct {
	Key      string
	SourceID string
}

// Resolve derives both identity keys for a record.
func Resolve(a models.ListingAttributes) Identity {
	sid := SourceID(a.Link)
	if degenerate(a) {
		// No physical signal at all — the posting ID is the only identity left.
		return Identity{Key: sid, SourceID: sid}
	}
	return Identity{Key: Fingerprint(a), SourceID: sid}
}

// Fingerprint builds the structural key from district, size and rooms.
// Price is deliberately excluded: it is the attribute the lifecycle
// classifier compares across runs, and folding it into the key would break
// continuity on every reprice. Two records with an identical fingerprint are
// assumed to denote the same physical unit; collisions across genuinely
// distinct units are an accepted limitation of content-derived identity.
func Fingerprint(a models.ListingAttributes) string {
	parts := []string{
		intPart(a.District),
		floatPart(a.Size),
		intPart(a.Rooms),
	}
	return strings.Join(parts, "|")
}

// SourceID extracts the posting ID from the ad link, falling back to a
// stable hash prefix when the link does not match the detail-URL shape.
// It is always defined, even for an empty link.
func SourceID(link string) string {
	if m := sourceIDRegexp.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	sum := md5.Sum([]byte(link))
	return hex.EncodeToString(sum[:])[:12]
}

// degenerate reports whether every fingerprint attribute is null.
func degenerate(a models.ListingAttributes) bool {
	return a.District == nil && a.Size == nil && a.Rooms == nil
}

func intPart(v *int) string {
	if v == nil {
		return nullMarker
	}
	return strconv.Itoa(*v)
}

func floatPart(v *float64) string {
	if v == nil {
		return nullMarker
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
