package qbt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMagnetLink(t *testing.T) {
	uri := "magnet:?xt=urn:btih:8c4adbf9ebe66f1d804fb6a4fb9b74966c3ab609" +
		"&dn=ubuntu-24.04.iso&tr=udp%3A%2F%2Ftracker.one%3A1337&tr=udp%3A%2F%2Ftracker.two%3A80&xl=6114656256"

	magnet, err := ParseMagnetLink(uri)
	require.NoError(t, err)

	assert.Equal(t, "8c4adbf9ebe66f1d804fb6a4fb9b74966c3ab609", magnet.Hash)
	assert.Equal(t, "btih", magnet.HashType)
	assert.Equal(t, "ubuntu-24.04.iso", magnet.DisplayName)
	assert.Equal(t, []string{"udp://tracker.one:1337", "udp://tracker.two:80"}, magnet.Trackers)
	assert.Equal(t, "6114656256", magnet.ExactLength)
}

func TestParseMagnetLinkV2(t *testing.T) {
	magnet, err := ParseMagnetLink("magnet:?xt=urn:btmh:1220caf1e1c30e81cb361b9ee167c4aa64228a7fa4fa9f6105232b28ad099f3a302e&dn=hybrid")
	require.NoError(t, err)

	assert.Equal(t, "btmh", magnet.HashType)
	assert.Equal(t, "1220caf1e1c30e81cb361b9ee167c4aa64228a7fa4fa9f6105232b28ad099f3a302e", magnet.Hash)
}

func TestParseMagnetLinkHybridPrefersFirstTopic(t *testing.T) {
	magnet, err := ParseMagnetLink("magnet:?xt=urn:btih:631a31dd0a46257d5078c0dee4e66e26f73e42ac&xt=urn:btmh:1220d8dd32ac93357c368556af3ac1d95c9d76bd0dff6fa9833ecdac3d53134efabb")
	require.NoError(t, err)

	assert.Equal(t, "btih", magnet.HashType)
	assert.Equal(t, "631a31dd0a46257d5078c0dee4e66e26f73e42ac", magnet.Hash)
}

func TestParseMagnetLinkInvalid(t *testing.T) {
	tests := map[string]string{
		"not a magnet":    "http://example.com/file.torrent",
		"bad escaping":    "magnet:?xt=urn:btih:abc&dn=%zz",
		"no exact topic":  "magnet:?dn=nothing",
		"foreign urn only": "magnet:?xt=urn:sha1:YNCKHTQCWBTRNJIV4WNAE52SJUQCZO5C",
	}

	for name, uri := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMagnetLink(uri)
			assert.Error(t, err)
		})
	}
}
