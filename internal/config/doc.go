// Package config handles configuration loading for coven-irc.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by the .toml
// extension) with environment variable expansion, then defaulted and
// validated.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	matrix:
//	  access_token: "${COVEN_IRC_AS_TOKEN}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	networks:
//	  - domain: irc.libera.chat
//	    idle_timeout: "48h"
//	bridge:
//	  reconnect_delay: "5s"
//
// # Configuration Sections
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@ircbridge:example.org"
//	  access_token: "${COVEN_IRC_AS_TOKEN}"
//	  admin_rooms:
//	    "@alice:example.org": "!abc:example.org"
//	    "*": "!ops:example.org"
//
//	networks:
//	  - domain: irc.libera.chat
//	    port: 6697
//	    tls: true
//	    idle_timeout: "48h"
//	    ipv6_prefix: "2001:db8:1::/64"
//	    excluded_channels: ["#secret"]
//	    bot: {enabled: true, nick: "MatrixBridge"}
//	    membership: {mirror: false}
//	    nick_template: "$LOCALPART[m]"
//	    username_template: "$LOCALPART"
//	    max_clients: 500
//
//	ident:    {enabled: true, address: "0.0.0.0:113"}
//	server:   {grpc_addr: "127.0.0.1:50061", http_addr: "127.0.0.1:9090"}
//	database: {path: "/var/lib/coven-irc/irc.db"}
//	metrics:  {enabled: true, path: "/metrics"}
//	logging:  {level: "info", format: "text"}
//
// # Usage
//
//	cfg, err := config.Load("/etc/coven/irc.yaml")
//	if err != nil {
//	    return err
//	}
//	servers := cfg.Servers()
package config
