// Package cache deduplicates provider calls by request fingerprint.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/edgebet/intelgate/pkg/models"
)

// NormalizeQuery returns the canonical form of a query: NFC, case-folded,
// with runs of whitespace collapsed to one space.
func NormalizeQuery(q string) string {
	q = norm.NFC.String(q)
	q = cases.Fold().String(q)
	// Folding can produce decomposed sequences again.
	q = norm.NFC.String(q)
	return strings.Join(strings.Fields(q), " ")
}

type fingerprintKey struct {
	Kind  models.Kind `json:"kind"`
	Query string      `json:"query"`
}

// Fingerprint returns a stable cache key for a request. The consumer component
// is not part of the key so identical lookups from different callers share it.
func Fingerprint(req models.Request) string {
	raw, err := json.Marshal(fingerprintKey{Kind: req.Kind, Query: NormalizeQuery(req.Query)})
	if err == nil {
		if canonical, cerr := jcs.Transform(raw); cerr == nil {
			raw = canonical
		}
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
