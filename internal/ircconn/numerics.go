// ABOUTME: Names for the numeric replies the bridge reacts to.

package ircconn

import "strconv"

const (
	rplWelcome      = "001"
	rplISupport     = "005"
	rplWhoisUser    = "311"
	rplEndOfWhois   = "318"
	rplTopic        = "332"
	errNoSuchNick   = "401"
	errNoSuchServer = "402"
)

var errorNames = map[string]string{
	"401": "err_nosuchnick",
	"402": "err_nosuchserver",
	"403": "err_nosuchchannel",
	"404": "err_cannotsendtochan",
	"405": "err_toomanychannels",
	"421": "err_unknowncommand",
	"431": "err_nonicknamegiven",
	"432": "err_erroneusnickname",
	"433": "err_nicknameinuse",
	"436": "err_nickcollision",
	"437": "err_unavailresource",
	"441": "err_usernotinchannel",
	"442": "err_notonchannel",
	"443": "err_useronchannel",
	"461": "err_needmoreparams",
	"464": "err_passwdmismatch",
	"465": "err_yourebannedcreep",
	"471": "err_channelisfull",
	"473": "err_inviteonlychan",
	"474": "err_bannedfromchan",
	"475": "err_badchannelkey",
	"477": "err_needreggednick",
	"482": "err_chanoprivsneeded",
}

// errorName returns the symbolic name of an error numeric, or "" if
// command is not an error reply.
func errorName(command string) string {
	if name, ok := errorNames[command]; ok {
		return name
	}
	code, err := strconv.Atoi(command)
	if err != nil || len(command) != 3 || code < 400 || code > 599 {
		return ""
	}
	return "err_" + command
}
