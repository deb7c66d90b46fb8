// Package crossdevice links devices that probably belong to the same person.
//
// Fingerprints are compared feature by feature: each signal is hashed on its
// own and two devices agree on a feature when the hashes are equal. The
// similarity is the weighted share of agreeing features among the features
// both devices reported.
package crossdevice

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"edumarket/api/models"
)

type feature struct {
	name    string
	weight  float64
	extract func(models.Fingerprint) string
}

var features = []feature{
	{"canvas", 0.25, func(f models.Fingerprint) string { return f.Canvas }},
	{"webgl", 0.20, func(f models.Fingerprint) string { return f.WebGL }},
	{"audio", 0.15, func(f models.Fingerprint) string { return f.Audio }},
	{"fonts", 0.15, func(f models.Fingerprint) string { return sortedJoin(f.Fonts) }},
	{"hardware", 0.10, hardware},
	{"timezone", 0.05, func(f models.Fingerprint) string { return f.Timezone }},
	{"language", 0.05, func(f models.Fingerprint) string { return strings.ToLower(f.Language) }},
	{"plugins", 0.05, func(f models.Fingerprint) string { return sortedJoin(f.Plugins) }},
}

// MinOverlap is the total weight two fingerprints must both report before
// they are compared at all.
const MinOverlap = 0.5

// Hashes maps each reported feature to a hash of its value. Features the
// browser did not report are absent.
func Hashes(fp models.Fingerprint) map[string]string {
	out := make(map[string]string, len(features))
	for _, f := range features {
		v := f.extract(fp)
		if v == "" {
			continue
		}
		sum := sha256.Sum256([]byte(f.name + "\x00" + v))
		out[f.name] = hex.EncodeToString(sum[:16])
	}
	return out
}

// Similarity compares two hashed fingerprints. It is 0 when they share less
// than MinOverlap of reported weight.
func Similarity(a, b map[string]string) float64 {
	var shared, agree float64
	for _, f := range features {
		ha, okA := a[f.name]
		hb, okB := b[f.name]
		if !okA || !okB {
			continue
		}
		shared += f.weight
		if ha == hb {
			agree += f.weight
		}
	}
	if shared < MinOverlap-1e-9 {
		return 0
	}
	return agree / shared
}

func hardware(f models.Fingerprint) string {
	if f.Cores == 0 && f.MemoryGB == 0 && f.Screen == "" {
		return ""
	}
	return fmt.Sprintf("%d|%g|%s", f.Cores, f.MemoryGB, f.Screen)
}

func sortedJoin(items []string) string {
	if len(items) == 0 {
		return ""
	}
	cp := make([]string, len(items))
	for i, s := range items {
		cp[i] = strings.ToLower(strings.TrimSpace(s))
	}
	sort.Strings(cp)
	return strings.Join(cp, ",")
}
