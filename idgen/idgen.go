// Package idgen generates identifiers for persisted reports.
//
// A report id names the files of one run (report_<id>.md, report_<id>.pdf),
// so ids must be unique per process, safe as file name components and
// sortable by creation time.
package idgen

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator of time-ordered UUIDs (RFC 9562).
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Timestamped returns a Generator that produces IDs in the format
// "20060102T150405Z_<suffix>" where suffix comes from the inner generator.
func Timestamped(now func() time.Time, gen Generator) Generator {
	if now == nil {
		now = time.Now
	}
	return func() string {
		return now().UTC().Format("20060102T150405Z") + "_" + gen()
	}
}

// ReportID is the default report id strategy: UTC second plus 8 random
// base-36 characters.
var ReportID Generator = Timestamped(nil, NanoID(8))

// New produces a report id.
func New() string {
	return ReportID()
}
