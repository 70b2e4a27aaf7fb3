// Package sentry scrubs relay credentials and cipher material from Sentry
// events before they leave the process.
package sentry

import (
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"
)

const filtered = "[Filtered]"

// sensitiveHeaders are matched case-insensitively.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"encryption-iv":       true,
	"encryption-auth-tag": true,
}

// sensitiveKeys may appear in query strings, tags or breadcrumb data.
var sensitiveKeys = map[string]bool{
	"username":       true,
	"password":       true,
	"token":          true,
	"secret":         true,
	"psk":            true,
	"pre_shared_key": true,
	"jwt":            true,
	"authorization":  true,
	"cookie":         true,
}

// ScrubEvent removes sensitive data from a Sentry event before it is sent.
func ScrubEvent(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Request != nil {
		for header := range event.Request.Headers {
			if sensitiveHeaders[strings.ToLower(header)] {
				event.Request.Headers[header] = filtered
			}
		}
		event.Request.QueryString = scrubQuery(event.Request.QueryString)
		event.Request.Cookies = ""
		// Bodies are ciphertext or producer payloads; neither belongs in Sentry.
		event.Request.Data = ""
	}

	for key := range event.Tags {
		if sensitiveKeys[strings.ToLower(key)] {
			event.Tags[key] = filtered
		}
	}

	for i := range event.Breadcrumbs {
		for key := range event.Breadcrumbs[i].Data {
			if sensitiveKeys[strings.ToLower(key)] {
				event.Breadcrumbs[i].Data[key] = filtered
			}
		}
	}

	return event
}

// ScrubTransaction applies the same scrubbing logic to transaction events.
func ScrubTransaction(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	return ScrubEvent(event, hint)
}

func scrubQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return filtered
	}
	changed := false
	for key := range values {
		if sensitiveKeys[strings.ToLower(key)] {
			values[key] = []string{filtered}
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return values.Encode()
}
