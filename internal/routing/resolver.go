// Package routing maps recipient addresses to delivery verdicts against a
// settings snapshot. Resolution is pure: no side effects, no shared state.
package routing

import (
	"log/slog"
	"strings"

	"github.com/mailfold/mailfold/internal/settings"
)

// Action is the kind of delivery verdict.
type Action int

const (
	// ActionStore archives the message locally for the recipient.
	ActionStore Action = iota
	// ActionForward relays the message to another address.
	ActionForward
	// ActionDrop accepts and silently discards the message.
	ActionDrop
	// ActionReject refuses the message at the protocol level.
	ActionReject
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionStore:
		return "store"
	case ActionForward:
		return "forward"
	case ActionDrop:
		return "drop"
	case ActionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Verdict is the resolved delivery action for one recipient.
type Verdict struct {
	Action Action

	// Domain and User are set for ActionStore.
	Domain string
	User   string

	// Destination is set for ActionForward.
	Destination string
}

// Resolve computes the delivery verdict for a recipient address against the
// given settings snapshot. Matching is case-insensitive over the whole
// address. Calling Resolve twice with the same inputs yields identical
// verdicts.
func Resolve(recipient string, s *settings.ServerSettings) Verdict {
	addr := strings.ToLower(strings.TrimSpace(recipient))

	user, domain, ok := splitAddress(addr)
	if !ok {
		// An unparseable recipient cannot belong to a managed domain.
		return Verdict{Action: ActionReject}
	}

	cfg := s.FindDomain(domain)
	if cfg == nil {
		return resolveUnmanaged(user, domain, s)
	}

	// Explicit rules win over the catch-all regardless of its type; the
	// first match in list order is taken.
	for _, rule := range cfg.ForwardingRules {
		if strings.EqualFold(rule.IncomingEmail, addr) {
			return Verdict{Action: ActionForward, Destination: rule.DestinationEmail}
		}
	}

	switch cfg.CatchAll.Type {
	case settings.CatchAllReject:
		return Verdict{Action: ActionReject}
	case settings.CatchAllDelete:
		return Verdict{Action: ActionDrop}
	case settings.CatchAllForward:
		if cfg.CatchAll.ForwardToEmail == "" {
			// Invalid configuration: fall open to local archival rather
			// than losing or bouncing the mail.
			slog.Warn("forward catch-all has no destination, storing locally",
				"domain", cfg.DomainName,
			)
			return Verdict{Action: ActionStore, Domain: domain, User: user}
		}
		return Verdict{Action: ActionForward, Destination: cfg.CatchAll.ForwardToEmail}
	default:
		return Verdict{Action: ActionStore, Domain: domain, User: user}
	}
}

// resolveUnmanaged handles recipients whose domain has no configuration.
// The legacy single-domain mode treats the server name itself as a local
// domain, and an unconfigured server name accepts everything.
func resolveUnmanaged(user, domain string, s *settings.ServerSettings) Verdict {
	name := strings.TrimSpace(s.ServerName)
	if name == "" || strings.EqualFold(domain, name) {
		return Verdict{Action: ActionStore, Domain: domain, User: user}
	}
	return Verdict{Action: ActionReject}
}

// splitAddress splits an address into local part and domain at the last "@".
func splitAddress(addr string) (user, domain string, ok bool) {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}
