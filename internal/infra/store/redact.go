package store

import (
	"net/url"
	"strings"
)

var secretKeys = []string{"password", "pass", "pwd", "sslpassword"}

// RedactDSN masks passwords in URL and keyword/value DSNs. A DSN without
// recognizable credentials (a SQLite file path, say) is returned unchanged
// minus its query string.
func RedactDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}

	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		if u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "****")
			}
		}
		q := u.Query()
		for _, k := range secretKeys {
			if q.Has(k) {
				q.Set(k, "****")
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	if strings.Contains(dsn, "=") && strings.Contains(dsn, " ") || strings.HasPrefix(strings.ToLower(dsn), "host=") {
		parts := strings.Fields(dsn)
		for i, p := range parts {
			k, _, ok := strings.Cut(p, "=")
			if !ok {
				continue
			}
			for _, s := range secretKeys {
				if strings.EqualFold(k, s) {
					parts[i] = k + "=****"
				}
			}
		}
		return strings.Join(parts, " ")
	}

	path, _, _ := strings.Cut(dsn, "?")
	return path
}
