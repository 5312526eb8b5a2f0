package render

import (
	"encoding/json"
	"fmt"

	"github.com/openpalm/openpalm/internal/stack"
)

// caddyRoute mirrors the caddy JSON route shape. Handlers and matchers
// are open maps because caddy's config surface is large; only the
// fields this renderer emits are constrained.
type caddyRoute struct {
	Match  []map[string]any `json:"match,omitempty"`
	Handle []map[string]any `json:"handle"`
}

// Known HTTP channel upstream ports inside the compose network.
var channelUpstreamPorts = map[string]int{
	"api":  8701,
	"a2a":  8702,
	"chat": 8703,
}

// channelPathPrefixes maps HTTP channels to their public path prefixes.
var channelPathPrefixes = map[string][]string{
	"api":  {"/v1/*"},
	"a2a":  {"/a2a", "/a2a/*", "/.well-known/agent.json"},
	"chat": {"/chat/*"},
}

// renderCaddy builds caddy.json: path-prefix routing to the channel
// adapters and the admin API, listening on the ingress port.
func renderCaddy(spec *stack.Spec, snippets map[string]ChannelSnippet) ([]byte, error) {
	var routes []caddyRoute

	for _, name := range spec.ChannelNames() {
		if snippet, ok := snippets[name]; ok && len(snippet.Route) > 0 {
			var route caddyRoute
			if err := json.Unmarshal(snippet.Route, &route); err != nil {
				return nil, fmt.Errorf("channel %s: parse caddy route snippet: %w", name, err)
			}
			routes = append(routes, route)
			continue
		}
		port, ok := channelUpstreamPorts[name]
		if !ok {
			// Socket channels have no HTTP surface behind the proxy.
			continue
		}
		routes = append(routes, proxyRoute(channelPathPrefixes[name], "channel-"+name, port))
	}

	routes = append(routes,
		proxyRoute([]string{"/admin/*"}, "admin", 8720),
		proxyRoute([]string{"/health"}, "guardian", 8710),
	)

	cfg := map[string]any{
		"admin": map[string]any{"disabled": true},
		"apps": map[string]any{
			"http": map[string]any{
				"servers": map[string]any{
					"openpalm": map[string]any{
						"listen": []string{fmt.Sprintf(":%d", spec.IngressPort)},
						"routes": routes,
					},
				},
			},
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render caddy config: %w", err)
	}
	return append(data, '\n'), nil
}

func proxyRoute(paths []string, upstream string, port int) caddyRoute {
	return caddyRoute{
		Match: []map[string]any{{"path": paths}},
		Handle: []map[string]any{{
			"handler": "reverse_proxy",
			"upstreams": []map[string]any{
				{"dial": fmt.Sprintf("%s:%d", upstream, port)},
			},
		}},
	}
}
