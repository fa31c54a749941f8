package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config for the named transport.
func Template(transport string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transport)) {
	case TransportSocketCAN, "":
		return socketcanTemplate, nil
	case TransportSLCAN:
		return slcanTemplate, nil
	case TransportReplay:
		return replayTemplate, nil
	default:
		return "", fmt.Errorf("unknown transport: %s", transport)
	}
}

func WriteTemplate(path, transport string, overwrite bool) error {
	template, err := Template(transport)
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

const commonTemplate = `database = "signals.toml"
select = []
select_all = true
autostart = true

refresh_interval = "100ms"
receive_timeout = "100ms"
stop_grace = "2s"
decode_failure_policy = "count"
reset_on_disconnect = false

http_addr = "127.0.0.1:8080"
cors_origins = ["http://localhost:3000"]
control_token = ""
tls_cert = ""
tls_key = ""
print = false
`

const socketcanTemplate = `transport = "socketcan"
channel = "can0"
bitrate = 250000
configure_link = false
` + commonTemplate

const slcanTemplate = `transport = "slcan"
channel = "/dev/ttyACM0"
bitrate = 250000
serial_baud = 115200
` + commonTemplate

const replayTemplate = `transport = "replay"
channel = "capture.log"
replay_rate = 1.0
replay_loop = false
` + commonTemplate
