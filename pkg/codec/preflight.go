package codec

import (
	"strings"
	"time"

	"github.com/corehttp/corehttp/pkg/headers"
	"github.com/corehttp/corehttp/pkg/message"
)

// PreflightResult is the outcome of evaluating a request's conditional
// headers against a resource's current validators.
type PreflightResult int

const (
	// PreflightContinue means the handler should run normally.
	PreflightContinue PreflightResult = iota
	// PreflightNotModified means the codec should short-circuit with 304.
	PreflightNotModified
	// PreflightFailed means the codec should short-circuit with 412.
	PreflightFailed
)

// Preflight implements the conditional-request decision table: If-Match and
// If-Unmodified-Since guard writes (412 on mismatch), If-None-Match and
// If-Modified-Since guard reads (304 on match), with If-Match/If-None-Match
// taking priority over their Since-based counterparts per RFC 9110 §13.2.2.
func Preflight(req *message.Request, etag string, lastModified time.Time) PreflightResult {
	ifMatch := req.Headers.GetKnown(headers.IfMatch)
	ifNoneMatch := req.Headers.GetKnown(headers.IfNoneMatch)
	ifModifiedSince := req.Headers.GetKnown(headers.IfModifiedSince)
	ifUnmodifiedSince := req.Headers.GetKnown(headers.IfUnmodifiedSince)

	if ifMatch != "" {
		if !etagMatchesAny(etag, ifMatch) {
			return PreflightFailed
		}
	} else if ifUnmodifiedSince != "" {
		if t, ok := ParseHTTPDate(ifUnmodifiedSince); ok {
			if lastModified.After(t) {
				return PreflightFailed
			}
		}
	}

	if ifNoneMatch != "" {
		if etagMatchesAny(etag, ifNoneMatch) {
			return PreflightNotModified
		}
	} else if ifModifiedSince != "" {
		if t, ok := ParseHTTPDate(ifModifiedSince); ok {
			if !lastModified.After(t) {
				return PreflightNotModified
			}
		}
	}

	return PreflightContinue
}

// httpDateFormats are the three date forms RFC 9110 obliges a recipient to
// accept: IMF-fixdate, the obsolete RFC 850 form, and asctime.
var httpDateFormats = []string{
	timeFormat,
	"Monday, 02-Jan-06 15:04:05 GMT",
	"Mon Jan _2 15:04:05 2006",
}

// ParseHTTPDate parses an HTTP date in any of the three accepted formats.
func ParseHTTPDate(value string) (time.Time, bool) {
	for _, layout := range httpDateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func etagMatchesAny(etag, headerValue string) bool {
	if headerValue == "*" {
		return etag != ""
	}
	for _, candidate := range strings.Split(headerValue, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}
