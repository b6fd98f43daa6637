package identity

import "strings"

// Built-in deny list; extended via DONORMARK_DISPOSABLE_DOMAINS.
var defaultDisposableDomains = []string{
	"mailinator.com",
	"guerrillamail.com",
	"sharklasers.com",
	"10minutemail.com",
	"tempmail.com",
	"temp-mail.org",
	"yopmail.com",
	"getnada.com",
	"dispostable.com",
	"trashmail.com",
	"throwawaymail.com",
}

type denyList struct {
	domains map[string]struct{}
}

func newDenyList(extra []string) *denyList {
	domains := make(map[string]struct{}, len(defaultDisposableDomains)+len(extra))
	for _, domain := range defaultDisposableDomains {
		domains[domain] = struct{}{}
	}
	for _, domain := range extra {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			domains[domain] = struct{}{}
		}
	}
	return &denyList{domains: domains}
}

// Blocked reports whether the email's domain, or any parent domain, is on the
// deny list.
func (l *denyList) Blocked(email string) (string, bool) {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "", false
	}
	domain := strings.ToLower(email[at+1:])
	for domain != "" {
		if _, ok := l.domains[domain]; ok {
			return domain, true
		}
		dot := strings.Index(domain, ".")
		if dot < 0 {
			break
		}
		domain = domain[dot+1:]
	}
	return "", false
}
