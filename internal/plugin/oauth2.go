package plugin

import (
	"net/url"
	"strings"
)

// AuthCodeURL builds the authorization redirect for the OAuth2 flow.
func (o OAuth2Spec) AuthCodeURL(clientID, redirectURI, state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	if len(o.Scopes) > 0 {
		delim := o.ScopeDelimiter
		if delim == "" {
			delim = " "
		}
		q.Set("scope", strings.Join(o.Scopes, delim))
	}
	for k, v := range o.ExtraAuthParams {
		q.Set(k, v)
	}
	sep := "?"
	if strings.Contains(o.AuthorizeURL, "?") {
		sep = "&"
	}
	return o.AuthorizeURL + sep + q.Encode()
}
