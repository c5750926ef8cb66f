// Package ice describes STUN/TURN servers handed to peers.
package ice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Server is one entry of the GET /ice response.
type Server struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
}

// Usable drops relay (turn/turns) entries that carry no credentials.
func (s Server) Usable() bool {
	if len(s.URLs) == 0 {
		return false
	}
	for _, u := range s.URLs {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return s.Username != "" && s.Credential != ""
		}
	}
	return true
}

// Filter keeps usable servers. The result is never nil.
func Filter(servers []Server) []Server {
	out := make([]Server, 0, len(servers))
	for _, s := range servers {
		if s.Usable() {
			out = append(out, s)
		}
	}
	return out
}

func ToWebRTC(servers []Server) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		is := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			is.Username = s.Username
			is.Credential = s.Credential
		}
		out = append(out, is)
	}
	return out
}

// Fetch loads the server list from url. Any failure yields an empty list.
func Fetch(ctx context.Context, client *http.Client, url string) []Server {
	servers, err := fetch(ctx, client, url)
	if err != nil {
		log.Warn().Err(err).Str("module", "ice").Str("url", url).Msg("ice config unavailable, continuing without")
		return []Server{}
	}
	return Filter(servers)
}

func fetch(ctx context.Context, client *http.Client, url string) ([]Server, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice: unexpected status %d", resp.StatusCode)
	}
	var servers []Server
	if err := json.NewDecoder(resp.Body).Decode(&servers); err != nil {
		return nil, fmt.Errorf("ice: decode: %w", err)
	}
	return servers, nil
}
