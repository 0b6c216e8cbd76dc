// Package provider contains catalogue search implementations (Spotify, etc.).
//
// The Provider interface is defined in internal/remote (remote.Provider),
// following the Go convention of defining interfaces where they are consumed.
// Each sub-package here implements that interface for a specific service.
package provider

import (
	"fmt"

	"rdstrack/internal/config"
	"rdstrack/internal/provider/deezer"
	"rdstrack/internal/provider/itunes"
	"rdstrack/internal/provider/musicbrainz"
	"rdstrack/internal/provider/spotify"
	"rdstrack/internal/remote"
)

// FromConfig builds the configured providers in search order.
func FromConfig(cfg config.RemoteConfig) ([]remote.Provider, error) {
	var out []remote.Provider
	for _, name := range cfg.Providers {
		switch name {
		case "spotify":
			out = append(out, spotify.New(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.Timeout))
		case "deezer":
			out = append(out, deezer.New(cfg.Timeout))
		case "itunes":
			out = append(out, itunes.New(cfg.Timeout))
		case "musicbrainz":
			out = append(out, musicbrainz.New(cfg.Timeout))
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	return out, nil
}
