// Package checks runs the pluggable pre-delivery checks (spam listing,
// SPF, DKIM, DMARC) gated by settings flags.
//
// The gateway only owns the enable/disable contract: each check is an
// injectable function, and the defaults are permissive no-ops. Verification
// algorithms live outside this repository.
package checks

import (
	"context"
	"log/slog"

	"github.com/mailfold/mailfold/internal/email"
	"github.com/mailfold/mailfold/internal/settings"
)

// Result is the outcome of one check. A failed check is advisory: the
// caller decides whether to act on it.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// CheckFunc inspects a message in its envelope context.
type CheckFunc func(ctx context.Context, env *email.Envelope, msg *email.Email) Result

// Runner evaluates the enabled checks for a message.
type Runner struct {
	Spam  CheckFunc
	SPF   CheckFunc
	DKIM  CheckFunc
	DMARC CheckFunc
}

// NewRunner creates a Runner with permissive defaults for every check.
func NewRunner() *Runner {
	return &Runner{
		Spam:  passCheck("spam"),
		SPF:   passCheck("spf"),
		DKIM:  passCheck("dkim"),
		DMARC: passCheck("dmarc"),
	}
}

// Run evaluates the checks enabled in the settings snapshot, in a fixed
// order, and returns their results. Failed checks are logged; they do not
// stop evaluation.
func (r *Runner) Run(ctx context.Context, env *email.Envelope, msg *email.Email, s *settings.ServerSettings) []Result {
	var results []Result

	run := func(enabled bool, fn CheckFunc) {
		if !enabled || fn == nil {
			return
		}
		res := fn(ctx, env, msg)
		if !res.Passed {
			slog.Warn("message check failed",
				"check", res.Name,
				"detail", res.Detail,
				"from", env.MailFrom,
				"remote_addr", env.RemoteAddr,
			)
		}
		results = append(results, res)
	}

	run(s.EnableSpamFiltering, r.Spam)
	run(s.EnableSpfCheck, r.SPF)
	run(s.EnableDkimCheck, r.DKIM)
	run(s.EnableDmarcCheck, r.DMARC)

	return results
}

// passCheck returns a CheckFunc that always passes.
func passCheck(name string) CheckFunc {
	return func(context.Context, *email.Envelope, *email.Email) Result {
		return Result{Name: name, Passed: true}
	}
}
