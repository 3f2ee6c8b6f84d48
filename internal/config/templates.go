package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "group":
		return groupTemplate, nil
	case "group-tls":
		return groupTLSTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const groupTemplate = `group_id = "local-4"
token = ""

[session]
connect_timeout = "5s"
handshake_timeout = "5s"
wireup_timeout = "60s"
write_timeout = "30s"
backoff_initial = "50ms"
backoff_max = "2s"
backoff_factor = 2.0

[[peers]]
addr = "127.0.0.1:7400"
metrics_addr = "127.0.0.1:7500"

[[peers]]
addr = "127.0.0.1:7401"

[[peers]]
addr = "127.0.0.1:7402"

[[peers]]
addr = "127.0.0.1:7403"
`

const groupTLSTemplate = `group_id = "secure-2"
token = "change-me"

[session]
security_mode = "production"

[tls]
enabled = true
mutual = true
cert_file = "certs/peer.crt"
key_file = "certs/peer.key"
ca_file = "certs/ca.crt"

[[peers]]
addr = "127.0.0.1:7400"

[[peers]]
addr = "127.0.0.1:7401"
`
