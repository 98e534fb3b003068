package settings

import (
	"strings"
	"testing"
)

func TestFindDomain_CaseInsensitive(t *testing.T) {
	t.Parallel()

	s := &ServerSettings{
		Domains: []DomainConfig{
			{DomainName: "Example.COM"},
			{DomainName: "other.org"},
		},
	}

	if got := s.FindDomain("example.com"); got == nil || got.DomainName != "Example.COM" {
		t.Errorf("FindDomain(example.com): got %+v, want Example.COM", got)
	}
	if got := s.FindDomain("OTHER.ORG"); got == nil || got.DomainName != "other.org" {
		t.Errorf("FindDomain(OTHER.ORG): got %+v, want other.org", got)
	}
	if got := s.FindDomain("missing.net"); got != nil {
		t.Errorf("FindDomain(missing.net): got %+v, want nil", got)
	}
}

func TestForwardFrom(t *testing.T) {
	t.Parallel()

	s := &ServerSettings{ServerName: "mail.example.com"}
	if got := s.ForwardFrom(); got != "noreply@mail.example.com" {
		t.Errorf("ForwardFrom: got %q, want %q", got, "noreply@mail.example.com")
	}

	s.SendGridFromEmail = "forwarder@example.com"
	if got := s.ForwardFrom(); got != "forwarder@example.com" {
		t.Errorf("ForwardFrom: got %q, want %q", got, "forwarder@example.com")
	}
}

func TestCatchAllType_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  CatchAllType
		want string
	}{
		{CatchAllReject, "reject"},
		{CatchAllDelete, "delete"},
		{CatchAllForward, "forward"},
		{CatchAllNone, "none"},
		{CatchAllType(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("String(%d): got %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestValidate_CleanConfiguration(t *testing.T) {
	t.Parallel()

	s := &ServerSettings{
		ServerName:     "mail.example.com",
		SendGridApiKey: "SG.key",
		Domains: []DomainConfig{
			{
				DomainName: "example.com",
				ForwardingRules: []ForwardingRule{
					{IncomingEmail: "a@example.com", DestinationEmail: "b@other.com"},
				},
				CatchAll: CatchAll{Type: CatchAllReject},
			},
		},
	}

	if problems := s.Validate(); len(problems) != 0 {
		t.Errorf("Validate: got %v, want no problems", problems)
	}
}

func TestValidate_Problems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings ServerSettings
		want     string
	}{
		{
			name:     "missing server name",
			settings: ServerSettings{Domains: []DomainConfig{{DomainName: "example.com", CatchAll: CatchAll{Type: CatchAllReject}}}},
			want:     "server name is not configured",
		},
		{
			name: "spam filtering without key",
			settings: ServerSettings{
				ServerName:          "mail.example.com",
				EnableSpamFiltering: true,
				Domains:             []DomainConfig{{DomainName: "example.com", CatchAll: CatchAll{Type: CatchAllReject}}},
			},
			want: "no Spamhaus key",
		},
		{
			name:     "no domains",
			settings: ServerSettings{ServerName: "mail.example.com"},
			want:     "no domains are configured",
		},
		{
			name: "dead-end domain",
			settings: ServerSettings{
				ServerName: "mail.example.com",
				Domains:    []DomainConfig{{DomainName: "example.com", CatchAll: CatchAll{Type: CatchAllNone}}},
			},
			want: "no forwarding rules and no catch-all",
		},
		{
			name: "forward catch-all without destination",
			settings: ServerSettings{
				ServerName:     "mail.example.com",
				SendGridApiKey: "SG.key",
				Domains:        []DomainConfig{{DomainName: "example.com", CatchAll: CatchAll{Type: CatchAllForward}}},
			},
			want: "forward catch-all with no destination",
		},
		{
			name: "forwarding without relay key",
			settings: ServerSettings{
				ServerName: "mail.example.com",
				Domains: []DomainConfig{{
					DomainName:      "example.com",
					ForwardingRules: []ForwardingRule{{IncomingEmail: "a@example.com", DestinationEmail: "b@other.com"}},
					CatchAll:        CatchAll{Type: CatchAllReject},
				}},
			},
			want: "no relay API key",
		},
		{
			name: "duplicate rules",
			settings: ServerSettings{
				ServerName:     "mail.example.com",
				SendGridApiKey: "SG.key",
				Domains: []DomainConfig{{
					DomainName: "example.com",
					ForwardingRules: []ForwardingRule{
						{IncomingEmail: "a@example.com", DestinationEmail: "b@other.com"},
						{IncomingEmail: "A@EXAMPLE.COM", DestinationEmail: "c@other.com"},
					},
					CatchAll: CatchAll{Type: CatchAllReject},
				}},
			},
			want: "duplicate forwarding rule",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			problems := tt.settings.Validate()
			for _, p := range problems {
				if strings.Contains(p, tt.want) {
					return
				}
			}
			t.Errorf("Validate: got %v, want a problem containing %q", problems, tt.want)
		})
	}
}
