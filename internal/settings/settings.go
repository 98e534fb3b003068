// Package settings holds the hot-reloadable server configuration: the
// snapshot model, the backing key-value store, and the TTL cache that
// serves snapshots to the listener and dispatcher.
package settings

import (
	"strings"
	"time"
)

// CatchAllType is the policy applied to a domain's recipients with no
// explicit forwarding rule. The numeric values are the wire format of the
// serialized domain configuration and must not be reordered.
type CatchAllType int

const (
	CatchAllReject CatchAllType = iota
	CatchAllDelete
	CatchAllForward
	CatchAllNone
)

// String returns the policy name.
func (t CatchAllType) String() string {
	switch t {
	case CatchAllReject:
		return "reject"
	case CatchAllDelete:
		return "delete"
	case CatchAllForward:
		return "forward"
	case CatchAllNone:
		return "none"
	default:
		return "unknown"
	}
}

// ForwardingRule maps one incoming address to a destination address.
type ForwardingRule struct {
	IncomingEmail    string `json:"IncomingEmail"`
	DestinationEmail string `json:"DestinationEmail"`
}

// CatchAll is a domain's policy for recipients with no matching rule.
type CatchAll struct {
	Type           CatchAllType `json:"Type"`
	ForwardToEmail string       `json:"ForwardToEmail"`
}

// DomainConfig is one managed domain. DomainName is unique within the
// active set, compared case-insensitively.
type DomainConfig struct {
	DomainName      string           `json:"DomainName"`
	ForwardingRules []ForwardingRule `json:"ForwardingRules"`
	CatchAll        CatchAll         `json:"CatchAll"`
}

// ServerSettings is a process-wide configuration snapshot. It is immutable
// once loaded and superseded wholesale by the next refresh; consumers must
// never mutate a snapshot field-by-field.
type ServerSettings struct {
	ServerName          string
	EnableSpamFiltering bool
	SpamhausKey         string
	EnableSpfCheck      bool
	EnableDkimCheck     bool
	EnableDmarcCheck    bool
	SendGridApiKey      string
	SendGridFromEmail   string
	DoNotSaveMessages   bool
	Domains             []DomainConfig

	// RestartRequested is the server-assigned change signal timestamp.
	RestartRequested time.Time

	// LoadedAt records when this snapshot was read from the store.
	LoadedAt time.Time
}

// FindDomain returns the domain configuration matching name
// case-insensitively, or nil.
func (s *ServerSettings) FindDomain(name string) *DomainConfig {
	for i := range s.Domains {
		if strings.EqualFold(s.Domains[i].DomainName, name) {
			return &s.Domains[i]
		}
	}
	return nil
}

// ForwardFrom returns the sender address used on forwarded mail: the
// configured from-address, or noreply at the server name.
func (s *ServerSettings) ForwardFrom() string {
	if s.SendGridFromEmail != "" {
		return s.SendGridFromEmail
	}
	return "noreply@" + s.ServerName
}

// Validate checks the snapshot for operational problems and returns a
// human-readable description of each. Validation never fails a start:
// the caller logs the findings and proceeds with whatever configuration
// is available.
func (s *ServerSettings) Validate() []string {
	var problems []string

	if strings.TrimSpace(s.ServerName) == "" {
		problems = append(problems, "server name is not configured")
	}
	if s.EnableSpamFiltering && s.SpamhausKey == "" {
		problems = append(problems, "spam filtering is enabled but no Spamhaus key is configured")
	}
	if len(s.Domains) == 0 {
		problems = append(problems, "no domains are configured")
	}

	seen := make(map[string]string)
	for _, d := range s.Domains {
		if d.CatchAll.Type == CatchAllNone && len(d.ForwardingRules) == 0 {
			problems = append(problems, "domain "+d.DomainName+" has no forwarding rules and no catch-all; mail will be archived")
		}
		if d.CatchAll.Type == CatchAllForward && d.CatchAll.ForwardToEmail == "" {
			problems = append(problems, "domain "+d.DomainName+" has a forward catch-all with no destination")
		}
		needsRelay := d.CatchAll.Type == CatchAllForward || len(d.ForwardingRules) > 0
		if needsRelay && s.SendGridApiKey == "" {
			problems = append(problems, "domain "+d.DomainName+" forwards mail but no relay API key is configured")
		}
		for _, r := range d.ForwardingRules {
			key := strings.ToLower(r.IncomingEmail)
			if prev, ok := seen[key]; ok {
				problems = append(problems, "duplicate forwarding rule for "+r.IncomingEmail+" (first seen in domain "+prev+"); the first rule in list order wins")
				continue
			}
			seen[key] = d.DomainName
		}
	}

	return problems
}
