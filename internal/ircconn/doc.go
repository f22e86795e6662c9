// ABOUTME: Package ircconn is the IRC transport used in production.
// ABOUTME: It wraps gopkg.in/irc.v4 behind the irc.Conn and irc.Factory contracts.

// Package ircconn dials IRC networks and adapts gopkg.in/irc.v4 clients to
// irc.Conn.
//
// The adapter keeps the membership table and the RPL_ISUPPORT map, turns
// numeric error replies into irc.EventError events named after their RFC
// symbols (err_bannedfromchan and friends), and answers WHOIS from the
// 311/318/401 replies.
package ircconn
