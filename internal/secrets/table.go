package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
)

const channelSecretPrefix = "CHANNEL_"
const channelSecretSuffix = "_SECRET"

// ChannelSecrets builds the guardian's channel secret table from the
// secrets file, with process env as fallback for keys the file lacks.
// Keys follow CHANNEL_<NAME>_SECRET; the map key is the lowercase
// channel name.
func ChannelSecrets(secretsPath string) (map[string]string, error) {
	table := make(map[string]string)

	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if name, ok := channelNameFromKey(key); ok && value != "" {
			table[name] = value
		}
	}

	fileVals, err := ParseFile(secretsPath)
	if err != nil {
		return nil, err
	}
	for key, value := range fileVals {
		if name, ok := channelNameFromKey(key); ok && value != "" {
			table[name] = value
		}
	}
	return table, nil
}

func channelNameFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, channelSecretPrefix) || !strings.HasSuffix(key, channelSecretSuffix) {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(key, channelSecretPrefix), channelSecretSuffix)
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}

// ChannelSecretKey returns the env key for a channel's shared secret.
func ChannelSecretKey(channel string) string {
	return channelSecretPrefix + strings.ToUpper(channel) + channelSecretSuffix
}

// GenerateSecret returns a fresh 256-bit hex secret.
func GenerateSecret() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
