package qbt

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const magnetPrefix = "magnet:?"

// ParseMagnetLink extracts information from a magnet link. Both BitTorrent v1
// (urn:btih) and v2 (urn:btmh) topics are recognised; the first one wins.
func ParseMagnetLink(magnetURI string) (*MagnetLink, error) {
	if !strings.HasPrefix(magnetURI, magnetPrefix) {
		return nil, errors.Errorf("invalid magnet link format: missing %q prefix", magnetPrefix)
	}

	values, err := url.ParseQuery(strings.TrimPrefix(magnetURI, magnetPrefix))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse magnet link query")
	}

	magnet := &MagnetLink{
		DisplayName:      values.Get("dn"),
		Trackers:         values["tr"],
		ExactLength:      values.Get("xl"),
		ExactSource:      values.Get("xs"),
		Keywords:         values.Get("kt"),
		AcceptableSource: values.Get("as"),
	}

topics:
	for _, topic := range values["xt"] {
		switch {
		case strings.HasPrefix(topic, "urn:btih:"):
			magnet.Hash, magnet.HashType = strings.TrimPrefix(topic, "urn:btih:"), "btih"
		case strings.HasPrefix(topic, "urn:btmh:"):
			magnet.Hash, magnet.HashType = strings.TrimPrefix(topic, "urn:btmh:"), "btmh"
		default:
			continue
		}
		break topics
	}

	if magnet.Hash == "" {
		return nil, errors.New("magnet link has no BitTorrent exact topic")
	}
	return magnet, nil
}
