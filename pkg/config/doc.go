// Package config loads hookd's runtime configuration and handler seed files.
//
// Runtime settings come from, in precedence order, command-line flags,
// HOOKD_* environment variables, an optional YAML config file and built-in
// defaults. Keys are dotted, and the environment form replaces dots with
// underscores:
//
//	http.addr            HOOKD_HTTP_ADDR
//	tcp.max_connections  HOOKD_TCP_MAX_CONNECTIONS
//	admin.api_key        HOOKD_ADMIN_API_KEY
//	admin.rate_limit     HOOKD_ADMIN_RATE_LIMIT
//	mqtt.broker          HOOKD_MQTT_BROKER
//
// Seed files declare handlers in YAML so a fresh database can be populated
// at startup. A file holds one handler, a handlers list, or several YAML
// documents:
//
//	kind: http
//	id: log-everything
//	method: "*"
//	path: "*"
//	order: 0
//	code: |
//	  console.log(req.method, req.path)
//
// Every document is checked against an embedded JSON schema before it is
// converted into a handler.
package config
