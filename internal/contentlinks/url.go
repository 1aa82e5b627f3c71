package contentlinks

import (
	"net/url"
	"strings"
)

// ExtractURLParams returns the query parameters of rawURL. Parameters found
// in the fragment ("#/route?x=1" or "#x=1") are included too, without
// overriding the query ones. Repeated keys keep their first value.
func ExtractURLParams(rawURL string) map[string]string {
	params := make(map[string]string)

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return params
	}
	addValues(params, u.Query())

	frag := u.Fragment
	if i := strings.LastIndex(frag, "?"); i >= 0 {
		frag = frag[i+1:]
	}
	if strings.Contains(frag, "=") {
		if vals, err := url.ParseQuery(frag); err == nil {
			addValues(params, vals)
		}
	}
	return params
}

func addValues(dst map[string]string, vals url.Values) {
	for k, v := range vals {
		if _, ok := dst[k]; ok || len(v) == 0 {
			continue
		}
		dst[k] = v[0]
	}
}

// sitePaths are the first path segments of LMS scripts. Everything from
// them on is not part of the site root.
var sitePaths = []string{
	"/admin/", "/auth/", "/badges/", "/blocks/", "/blog/", "/calendar/",
	"/course/", "/enrol/", "/grade/", "/lib/", "/local/", "/login/",
	"/message/", "/mod/", "/my/", "/notes/", "/question/", "/report/",
	"/tag/", "/theme/", "/user/", "/webservice/",
	"/index.php", "/pluginfile.php", "/tokenpluginfile.php", "/draftfile.php",
}

// GetSiteURL returns the root of the site rawURL belongs to, without
// trailing slash.
func GetSiteURL(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	// Don't look for script paths in the scheme and host.
	start := 0
	if i := strings.Index(s, "://"); i >= 0 {
		start = i + 3
		if j := strings.Index(s[start:], "/"); j >= 0 {
			start += j
		} else {
			return strings.TrimRight(s, "/")
		}
	}

	cut := len(s)
	lower := strings.ToLower(s)
	for _, p := range sitePaths {
		if i := strings.Index(lower[start:], p); i >= 0 && start+i < cut {
			cut = start + i
		}
	}
	return strings.TrimRight(s[:cut], "/")
}
