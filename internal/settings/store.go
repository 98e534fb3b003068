package settings

import (
	"context"
	"time"
)

// Record is the raw backing-store shape of the settings entity. Fields are
// pointers so a missing attribute is distinguishable from a zero value;
// the cache injects defaults for nil fields and writes the healed record
// back.
type Record struct {
	ServerName          *string
	EnableSpamFiltering *bool
	SpamhausKey         *string
	EnableSpfCheck      *bool
	EnableDkimCheck     *bool
	EnableDmarcCheck    *bool
	SendGridApiKey      *string
	SendGridFromEmail   *string
	DomainsJson         *string
	DoNotSaveMessages   *bool
	RestartRequested    *time.Time
}

// Store is the settings backing store: a single logical record keyed by
// (scope="SmtpServer", id="Current").
type Store interface {
	// Load reads the record. found is false when no record exists yet;
	// that is not an error.
	Load(ctx context.Context) (rec *Record, found bool, err error)

	// Save upserts the record.
	Save(ctx context.Context, rec *Record) error
}
