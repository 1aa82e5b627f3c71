// internal/types/ids.go
package types

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

type SiteID string
type ChoiceID string

func NewChoiceID() ChoiceID {
	return ChoiceID(uuid.New().String())
}

// NewSiteID derives a stable site ID from the site URL and the username, so
// the same account on the same site always maps to the same ID.
func NewSiteID(siteURL, username string) SiteID {
	sum := md5.Sum([]byte(NormalizeSiteURL(siteURL) + username))
	return SiteID(hex.EncodeToString(sum[:]))
}

// NormalizeSiteURL lowercases the scheme and host part and strips trailing
// slashes.
func NormalizeSiteURL(siteURL string) string {
	u := strings.TrimSpace(siteURL)
	u = strings.TrimRight(u, "/")
	if i := strings.Index(u, "://"); i >= 0 {
		rest := u[i+3:]
		host, path, _ := strings.Cut(rest, "/")
		u = strings.ToLower(u[:i]) + "://" + strings.ToLower(host)
		if path != "" {
			u += "/" + path
		}
	}
	return u
}
