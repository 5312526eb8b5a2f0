package render

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChannelTemplate is the pair of files channel install copies into the
// config directory. Socket channels get no route.
type ChannelTemplate struct {
	Compose string
	Route   json.RawMessage
}

// TemplateFor returns the install template for a channel. HTTP channels
// get a compose service plus a proxy route; socket channels (discord,
// telegram) get only the compose service. Unknown names get the generic
// HTTP channel shape with no route.
func TemplateFor(name string) ChannelTemplate {
	tpl := ChannelTemplate{Compose: channelServiceBlock(name)}

	if port, ok := channelUpstreamPorts[name]; ok {
		route, _ := json.MarshalIndent(
			proxyRoute(channelPathPrefixes[name], "channel-"+name, port), "", "  ")
		tpl.Route = route
	}

	if isSocketChannel(name) {
		upper := strings.ToUpper(name)
		tpl.Compose = fmt.Sprintf(`  channel-%s:
    image: openpalm/openpalm:latest
    command: ["channels", "--only", "%s"]
    restart: unless-stopped
    env_file:
      - channel-%s.env
    environment:
      CHANNEL_%s_SECRET: ${CHANNEL_%s_SECRET}
      %s_BOT_TOKEN: ${%s_BOT_TOKEN}
    depends_on:
      - guardian
`, name, name, name, upper, upper, upper, upper)
	}
	return tpl
}

func isSocketChannel(name string) bool {
	return name == "discord" || name == "telegram"
}
