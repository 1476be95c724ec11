package httpcache

import "net/url"

const redactedSuffix = "/...(redacted)"

// RedactURL hides path and query (which often carry feed tokens) for logging.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "url://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + redactedSuffix
}
