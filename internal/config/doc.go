// Package config handles configuration loading for onebot-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by the .toml
// extension) with environment variable expansion, duration parsing, defaults
// and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ONEBOT_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/onebot-gateway/gateway.yaml
//  3. ~/.config/onebot-gateway/gateway.yaml
//
// # Environment Variable Expansion
//
//	onebot:
//	  access_token: "${ONEBOT_TOKEN}"
//
// Unset variables expand to an empty string.
//
// # Example
//
//	onebot:
//	  endpoint: "ws://127.0.0.1:3001"
//	  access_token: "${ONEBOT_TOKEN}"
//	  queue_size: 100
//	  reconnect_delay: "3s"
//	  request_timeout: "120s"
//	  sweep_interval: "30s"
//
//	dispatch:
//	  dedupe_ttl: "5m" # optional, drops redelivered message ids
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
//	apps:
//	  owner_id: 10000
//	  main_group: 123456
//
//	gscore:
//	  enabled: true
//	  endpoint: "ws://127.0.0.1:8765/ws/onebot"
//	  enabled_groups: [123456]
//	  node_sender_id: "2854196310"
//	  node_sender_nickname: "bot"
//
//	logging:
//	  level: "info"
//	  format: "text"
package config
