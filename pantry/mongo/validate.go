// pantry/mongo/validate.go
package mongo

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURI does a lightweight shape check of a Mongo connection string
// so config validation can fail before any dial. It accepts mongodb:// and
// mongodb+srv://, requires a host and rejects CR/LF.
func ValidateURI(raw string) error {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return fmt.Errorf("empty")
	case strings.ContainsAny(raw, "\r\n"):
		return fmt.Errorf("contains CR/LF")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
		return fmt.Errorf(`scheme must be "mongodb" or "mongodb+srv" (got %q)`, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// ValidateDatabaseName rejects names the server refuses. Database names
// cannot contain dots, which namespace parsing relies on.
func ValidateDatabaseName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty")
	case len(name) > 63:
		return fmt.Errorf("longer than 63 bytes")
	case strings.ContainsAny(name, `/\. "$*<>:|?`):
		return fmt.Errorf("contains a character MongoDB does not allow")
	}
	return nil
}
