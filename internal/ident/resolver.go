// ABOUTME: Template-driven resolver for the nick, username and realname of bridged users.
// ABOUTME: Per-network templates expand $LOCALPART, $USERID and $SERVER from the Matrix ID.

package ident

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/2389/coven-irc/internal/bridged"
	"github.com/2389/coven-irc/internal/irc"
	"maunium.net/go/mautrix/id"
)

const (
	// DefaultNickTemplate is used when a network sets no nick template.
	DefaultNickTemplate = "$LOCALPART[m]"
	// DefaultUsernameTemplate is used when a network sets no username template.
	DefaultUsernameTemplate = "$LOCALPART"

	maxUsernameLength = 10
	fallbackUsername  = "matrixuser"
	defaultBotNick    = "appservice"
)

var illegalUsernameChars = regexp.MustCompile(`[^a-z0-9_\-]`)

// Resolver implements bridged.Resolver from per-network templates.
type Resolver struct {
	mu       sync.RWMutex
	networks map[string]*irc.Server
}

// NewResolver creates a Resolver for servers.
func NewResolver(servers ...*irc.Server) *Resolver {
	r := &Resolver{networks: make(map[string]*irc.Server, len(servers))}
	for _, s := range servers {
		r.networks[strings.ToLower(s.Domain)] = s
	}
	return r
}

func (r *Resolver) server(domain string) (*irc.Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.networks[strings.ToLower(domain)]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", domain)
	}
	return s, nil
}

// Resolve returns the names cfg registers with. Values already set on cfg
// win over the templates.
func (r *Resolver) Resolve(_ context.Context, cfg *irc.ClientConfig, user id.UserID) (irc.Names, error) {
	server, err := r.server(cfg.Domain())
	if err != nil {
		return irc.Names{}, err
	}

	nick := cfg.DesiredNick()
	if nick == "" {
		nick = r.Nick(server, user)
	}
	username := cfg.Username()
	if username == "" {
		username = r.Username(server, user)
	}
	realname := string(user)
	if user == "" {
		realname = nick
	}

	return irc.Names{Nick: nick, Username: username, Realname: realname}, nil
}

// Nick returns the default nick of user on server. The bot gets the
// network's bot nick.
func (r *Resolver) Nick(server *irc.Server, user id.UserID) string {
	if user == "" {
		if server.BotNick != "" {
			return server.BotNick
		}
		return defaultBotNick
	}

	tmpl := server.NickTemplate
	if tmpl == "" {
		tmpl = DefaultNickTemplate
	}
	nick := bridged.SanitizeNick(expand(tmpl, user))
	if nick == "" || !isLetter(nick[0]) {
		nick = "M" + nick
	}
	return nick
}

// Username returns the ident username of user on server.
func (r *Resolver) Username(server *irc.Server, user id.UserID) string {
	if user == "" {
		return fallbackUsername
	}

	tmpl := server.UsernameTemplate
	if tmpl == "" {
		tmpl = DefaultUsernameTemplate
	}
	username := illegalUsernameChars.ReplaceAllString(strings.ToLower(expand(tmpl, user)), "")
	if len(username) > maxUsernameLength {
		username = username[:maxUsernameLength]
	}
	if username == "" {
		return fallbackUsername
	}
	return username
}

func expand(tmpl string, user id.UserID) string {
	localpart, homeserver, err := user.Parse()
	if err != nil {
		localpart = strings.TrimPrefix(string(user), "@")
	}
	return strings.NewReplacer(
		"$LOCALPART", localpart,
		"$USERID", string(user),
		"$SERVER", homeserver,
	).Replace(tmpl)
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

var (
	_ bridged.Resolver    = (*Resolver)(nil)
	_ bridged.IdentMapper = (*Mapper)(nil)
)
