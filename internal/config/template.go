// ABOUTME: Commented starter configuration written by the init command
// ABOUTME: Kept in sync with the defaults applied by Parse

package config

import "strings"

// Template returns a starter YAML configuration with the given database path.
func Template(dbPath string) string {
	return strings.ReplaceAll(template, "{{DB_PATH}}", dbPath)
}

const template = `# coven-actuator configuration

server:
  http_addr: "127.0.0.1:8470"

database:
  path: "{{DB_PATH}}"

auth:
  # Leave empty to trust the X-Requester-ID header (anonymous mode).
  jwt_secret: "${COVEN_ACTUATOR_JWT_SECRET}"

scheduler:
  heartbeat_interval: 20s
  heartbeat_miss_threshold: 1
  preempt_grace_time: 30s
  schedule_publish_interval: 30s
  tick_interval: 1s

idempotency:
  ttl: 10m
  max_entries: 10000

tailscale:
  enabled: false
  hostname: "actuator"
  auth_key: "${TS_AUTHKEY}"
  state_dir: ""
  ephemeral: false

logging:
  level: info
  format: text
`
