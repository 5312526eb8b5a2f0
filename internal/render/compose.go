package render

import (
	"fmt"
	"strings"

	"github.com/openpalm/openpalm/internal/stack"
)

// Compose is written as text rather than marshalled YAML so the output
// is stable across library versions and readable in diffs. Service
// order is fixed: ingress, guardian, admin, core services, channels.

const composeHeader = `# Generated by openpalm; do not edit. Regenerated on every apply.
services:
`

// coreServiceBlocks are the built-in service templates. Secrets are
// referenced through ${VAR} compose interpolation and resolved from
// secrets.env at the project root; they are never written as literals.
var coreServiceBlocks = map[string]string{
	"caddy": `  caddy:
    image: caddy:2-alpine
    restart: unless-stopped
    command: ["caddy", "run", "--config", "/etc/caddy/caddy.json"]
    ports:
      - "%BIND%:%PORT%:%PORT%"
    volumes:
      - ./caddy.json:/etc/caddy/caddy.json:ro
`,
	"guardian": `  guardian:
    image: openpalm/openpalm:latest
    command: ["guardian"]
    restart: unless-stopped
    env_file:
      - guardian.env
    environment:
      CHANNEL_API_SECRET: ${CHANNEL_API_SECRET}
      CHANNEL_A2A_SECRET: ${CHANNEL_A2A_SECRET}
      CHANNEL_CHAT_SECRET: ${CHANNEL_CHAT_SECRET}
      CHANNEL_DISCORD_SECRET: ${CHANNEL_DISCORD_SECRET}
      CHANNEL_TELEGRAM_SECRET: ${CHANNEL_TELEGRAM_SECRET}
    depends_on:
      - assistant
`,
	"admin": `  admin:
    image: openpalm/openpalm:latest
    command: ["admin"]
    restart: unless-stopped
    env_file:
      - admin.env
    environment:
      ADMIN_TOKEN: ${ADMIN_TOKEN}
    volumes:
      - /var/run/docker.sock:/var/run/docker.sock
`,
	"assistant": `  assistant:
    image: openpalm/assistant:latest
    restart: unless-stopped
    environment:
      OPENMEMORY_URL: http://openmemory:8765
    depends_on:
      - openmemory
`,
	"openmemory": `  openmemory:
    image: openpalm/openmemory:latest
    restart: unless-stopped
    environment:
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD}
    depends_on:
      - postgres
`,
	"postgres": `  postgres:
    image: postgres:16-alpine
    restart: unless-stopped
    environment:
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD}
    volumes:
      - postgres-data:/var/lib/postgresql/data
`,
}

const composeFooter = `volumes:
  postgres-data:
`

// renderCompose builds the compose file for the spec. Channel services
// come from discovered snippets when present, falling back to the
// built-in channel template.
func renderCompose(spec *stack.Spec, snippets map[string]ChannelSnippet) ([]byte, error) {
	var b strings.Builder
	b.WriteString(composeHeader)

	caddy := coreServiceBlocks["caddy"]
	caddy = strings.ReplaceAll(caddy, "%BIND%", spec.BindAddress())
	caddy = strings.ReplaceAll(caddy, "%PORT%", fmt.Sprintf("%d", spec.IngressPort))
	b.WriteString(caddy)
	b.WriteString(coreServiceBlocks["guardian"])
	b.WriteString(coreServiceBlocks["admin"])

	for _, name := range spec.Services {
		block, ok := coreServiceBlocks[name]
		if !ok {
			return nil, fmt.Errorf("unknown core service %q", name)
		}
		b.WriteString(block)
	}

	for _, name := range spec.ChannelNames() {
		if snippet, ok := snippets[name]; ok && snippet.Compose != "" {
			b.WriteString(normalizeServiceBlock(snippet.Compose))
			continue
		}
		b.WriteString(channelServiceBlock(name))
	}

	b.WriteString(composeFooter)
	return []byte(b.String()), nil
}

// channelServiceBlock is the built-in template for channel-<name>.
func channelServiceBlock(name string) string {
	upper := strings.ToUpper(name)
	return fmt.Sprintf(`  channel-%s:
    image: openpalm/openpalm:latest
    command: ["channels", "--only", "%s"]
    restart: unless-stopped
    env_file:
      - channel-%s.env
    environment:
      CHANNEL_%s_SECRET: ${CHANNEL_%s_SECRET}
    depends_on:
      - guardian
`, name, name, name, upper, upper)
}

// normalizeServiceBlock trims trailing blank lines so snippet files can
// end with any amount of whitespace without breaking determinism.
func normalizeServiceBlock(block string) string {
	return strings.TrimRight(block, "\n") + "\n"
}
