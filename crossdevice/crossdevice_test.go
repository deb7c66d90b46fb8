package crossdevice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edumarket/api/kvstore"
	"edumarket/api/models"
)

func laptop() models.Fingerprint {
	return models.Fingerprint{
		Canvas:   "c4nv4s",
		WebGL:    "ANGLE (Apple, M2)",
		Audio:    "124.04347527516074",
		Fonts:    []string{"Helvetica", "Arial", "Menlo"},
		Plugins:  []string{"PDF Viewer"},
		Cores:    8,
		MemoryGB: 16,
		Screen:   "1512x982",
		Timezone: "Europe/Berlin",
		Language: "de-DE",
	}
}

func TestSimilarityPerFeature(t *testing.T) {
	a := Hashes(laptop())
	assert.Len(t, a, 8)
	assert.InDelta(t, 1.0, Similarity(a, a), 1e-9)

	reordered := laptop()
	reordered.Fonts = []string{"menlo", "Arial", "Helvetica"}
	assert.InDelta(t, 1.0, Similarity(a, Hashes(reordered)), 1e-9)

	travelling := laptop()
	travelling.Timezone = "America/New_York"
	assert.InDelta(t, 0.95, Similarity(a, Hashes(travelling)), 1e-9)

	otherGPU := laptop()
	otherGPU.Canvas = "different"
	otherGPU.WebGL = "NVIDIA"
	assert.InDelta(t, 0.55, Similarity(a, Hashes(otherGPU)), 1e-9)

	// only timezone and language reported: not enough to compare
	sparse := models.Fingerprint{Timezone: "Europe/Berlin", Language: "de-DE"}
	assert.Zero(t, Similarity(a, Hashes(sparse)))

	// features missing on one side do not count against the match
	partial := laptop()
	partial.Audio, partial.Plugins = "", nil
	assert.InDelta(t, 1.0, Similarity(a, Hashes(partial)), 1e-9)
}

func TestLinkerLinksSimilarDevices(t *testing.T) {
	ctx := context.Background()
	l := NewLinker(kvstore.NewMemory(0))

	first, err := l.Observe(ctx, "device-a", laptop())
	require.NoError(t, err)
	assert.Equal(t, MethodNew, first.Method)

	browser := laptop()
	browser.Timezone = "Europe/Paris"
	second, err := l.Observe(ctx, "device-b", browser)
	require.NoError(t, err)
	assert.Equal(t, MethodFingerprint, second.Method)
	assert.Equal(t, first.IdentityID, second.IdentityID)
	assert.InDelta(t, 0.95, second.Similarity, 1e-9)

	phone := models.Fingerprint{Canvas: "phone", WebGL: "Apple GPU", Audio: "35.7", Fonts: []string{"SF Pro"}, Timezone: "Europe/Berlin"}
	third, err := l.Observe(ctx, "device-c", phone)
	require.NoError(t, err)
	assert.Equal(t, MethodNew, third.Method)
	assert.NotEqual(t, first.IdentityID, third.IdentityID)

	devices, err := l.Devices(ctx, first.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, []string{"device-a", "device-b"}, devices)

	// seeing a device again keeps its identity
	again, err := l.Observe(ctx, "device-c", phone)
	require.NoError(t, err)
	assert.Equal(t, third.IdentityID, again.IdentityID)
}

func TestEmailHashLinksDeterministically(t *testing.T) {
	ctx := context.Background()
	l := NewLinker(kvstore.NewMemory(0))

	desktop := laptop()
	desktop.EmailHash = "ABC123"
	first, err := l.Observe(ctx, "desktop", desktop)
	require.NoError(t, err)

	phone := models.Fingerprint{Canvas: "phone", EmailHash: "abc123"}
	second, err := l.Observe(ctx, "phone", phone)
	require.NoError(t, err)
	assert.Equal(t, MethodEmail, second.Method)
	assert.Equal(t, first.IdentityID, second.IdentityID)
	assert.Equal(t, 1.0, second.Similarity)
}
