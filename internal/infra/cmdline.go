package infra

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// Default invocation flags of the language server.
const (
	DefaultTokenFlag = "csrf_token"
	DefaultPortFlag  = "extension_server_port"
)

// InvocationParser extracts connection hints from a command line.
//
// Grammar, for a flag name F:
//
//	--F=<value> | --F <value>
//
// The token value charset is [A-Za-z0-9-] and it may not start with "-", so a
// flag with no value never swallows the next flag. The port value is decimal digits in 1..65535.
type InvocationParser struct {
	tokenRe *regexp.Regexp
	portRe  *regexp.Regexp
}

// NewInvocationParser compiles the flag patterns. Empty names use the defaults.
func NewInvocationParser(tokenFlag, portFlag string) *InvocationParser {
	if tokenFlag == "" {
		tokenFlag = DefaultTokenFlag
	}
	if portFlag == "" {
		portFlag = DefaultPortFlag
	}
	return &InvocationParser{
		tokenRe: regexp.MustCompile(`--` + regexp.QuoteMeta(tokenFlag) + `(?:=|\s+)([A-Za-z0-9][A-Za-z0-9-]*)`),
		portRe:  regexp.MustCompile(`--` + regexp.QuoteMeta(portFlag) + `(?:=|\s+)([0-9]+)\b`),
	}
}

// Parse extracts the token and port hint. ok is false when no token is present;
// such a candidate cannot be connected to.
func (p *InvocationParser) Parse(cmdline string) (inv domain.Invocation, ok bool) {
	if m := p.tokenRe.FindStringSubmatch(cmdline); m != nil {
		inv.Token = m[1]
	}
	if m := p.portRe.FindStringSubmatch(cmdline); m != nil {
		if port, err := strconv.Atoi(m[1]); err == nil && port > 0 && port <= 65535 {
			inv.PortHint = port
		}
	}
	return inv, inv.Token != ""
}

// MatchesMarkers reports whether a command line belongs to the monitored service:
// the process name must appear, and so must at least one marker (case-insensitive).
// An empty marker list accepts any command line containing the process name.
func MatchesMarkers(cmdline, processName string, markers []string) bool {
	lower := strings.ToLower(cmdline)
	if processName != "" && !strings.Contains(lower, strings.ToLower(processName)) {
		return false
	}
	if len(markers) == 0 {
		return true
	}
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// RedactToken shortens a token for logs.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "…" + token[len(token)-4:]
}

var _ domain.InvocationParser = (*InvocationParser)(nil)
