// Package sanitize strips HTML from free-text fields that get persisted to
// the audit log and rebroadcast to other principals over the gateway (the
// lockdown/secure reason strings).
package sanitize

import "github.com/microcosm-cc/bluemonday"

var policy = bluemonday.StrictPolicy()

// Text strips all HTML tags from s, returning plain text safe to store and
// fan out to other clients verbatim.
func Text(s string) string {
	return policy.Sanitize(s)
}
