package crossdevice

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"edumarket/api/kvstore"
	"edumarket/api/models"
)

// Threshold is the similarity at which a device joins an existing identity.
const Threshold = 0.8

const (
	MethodEmail       = "email"
	MethodFingerprint = "fingerprint"
	MethodNew         = "new"
)

const (
	devicePrefix = "device:"
	emailPrefix  = "email:"
)

// DeviceRecord is what the linker keeps per device.
type DeviceRecord struct {
	DeviceID   string            `json:"deviceId"`
	IdentityID string            `json:"identityId"`
	Hashes     map[string]string `json:"hashes"`
	EmailHash  string            `json:"emailHash,omitempty"`
	SeenAt     time.Time         `json:"seenAt"`
}

// Linker keeps the device graph in a store shared across visitors.
type Linker struct {
	mu  sync.Mutex
	kv  kvstore.Store
	now func() time.Time
}

func NewLinker(kv kvstore.Store) *Linker {
	return &Linker{kv: kv, now: time.Now}
}

// Observe records deviceID's fingerprint and links it to an identity. A
// matching email hash links deterministically; otherwise the most similar
// known device at or above Threshold decides; otherwise the device keeps (or
// starts) its own identity.
func (l *Linker) Observe(ctx context.Context, deviceID string, fp models.Fingerprint) (*models.DeviceLink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec := DeviceRecord{DeviceID: deviceID, Hashes: Hashes(fp), EmailHash: strings.ToLower(fp.EmailHash), SeenAt: now}
	var existing DeviceRecord
	found, err := kvstore.GetJSON(ctx, l.kv, devicePrefix+deviceID, &existing)
	if err != nil {
		return nil, err
	}

	link := &models.DeviceLink{DeviceID: deviceID, LinkedAt: now}
	switch {
	case rec.EmailHash != "":
		var identity string
		ok, err := kvstore.GetJSON(ctx, l.kv, emailPrefix+rec.EmailHash, &identity)
		if err != nil {
			return nil, err
		}
		if ok && identity != "" {
			link.IdentityID, link.Similarity, link.Method = identity, 1, MethodEmail
			break
		}
		link.IdentityID, link.Similarity, link.Method = identityOf(found, existing), 1, MethodNew
		if err := kvstore.SetJSON(ctx, l.kv, emailPrefix+rec.EmailHash, link.IdentityID); err != nil {
			return nil, err
		}
	default:
		best, score, err := l.closest(ctx, deviceID, rec.Hashes)
		if err != nil {
			return nil, err
		}
		if best != nil && score >= Threshold {
			link.IdentityID, link.Similarity, link.Method = best.IdentityID, score, MethodFingerprint
		} else {
			link.IdentityID, link.Similarity, link.Method = identityOf(found, existing), score, MethodNew
		}
	}

	rec.IdentityID = link.IdentityID
	if rec.EmailHash == "" {
		rec.EmailHash = existing.EmailHash
	}
	if err := kvstore.SetJSON(ctx, l.kv, devicePrefix+deviceID, rec); err != nil {
		return nil, fmt.Errorf("failed to save device: %w", err)
	}
	if link.Method != MethodNew {
		log.Info().Str("device_id", deviceID).Str("identity_id", link.IdentityID).Str("method", link.Method).
			Float64("similarity", link.Similarity).Msg("Device linked")
	}
	return link, nil
}

// Devices lists the device ids linked to identityID.
func (l *Linker) Devices(ctx context.Context, identityID string) ([]string, error) {
	records, err := l.records(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range records {
		if r.IdentityID == identityID {
			out = append(out, r.DeviceID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (l *Linker) closest(ctx context.Context, self string, hashes map[string]string) (*DeviceRecord, float64, error) {
	records, err := l.records(ctx)
	if err != nil {
		return nil, 0, err
	}
	var best *DeviceRecord
	bestScore := 0.0
	for i := range records {
		if records[i].DeviceID == self {
			continue
		}
		if s := Similarity(hashes, records[i].Hashes); s > bestScore {
			best, bestScore = &records[i], s
		}
	}
	return best, bestScore, nil
}

func (l *Linker) records(ctx context.Context) ([]DeviceRecord, error) {
	keys, err := l.kv.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var out []DeviceRecord
	for _, k := range keys {
		if !strings.HasPrefix(k, devicePrefix) {
			continue
		}
		var r DeviceRecord
		ok, err := kvstore.GetJSON(ctx, l.kv, k, &r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func identityOf(found bool, existing DeviceRecord) string {
	if found && existing.IdentityID != "" {
		return existing.IdentityID
	}
	return ulid.Make().String()
}
