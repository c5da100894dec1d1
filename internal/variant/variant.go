// Package variant synthesizes candidate email addresses from partial contact
// fields using placeholder templates.
package variant

import (
	"net/mail"
	"strings"
)

// Contact holds the identity fields extracted from one source row. Any field
// may be empty; templates referencing an empty field produce no candidate.
type Contact struct {
	FirstName string
	LastName  string
	Domain    string
}

// Placeholder vocabulary. {f} and {l} substitute only the first character of
// the corresponding field; {company} substitutes the domain label before the
// first dot.
const (
	tokFirst   = "{first}"
	tokLast    = "{last}"
	tokF       = "{f}"
	tokL       = "{l}"
	tokDomain  = "{domain}"
	tokCompany = "{company}"
)

// Generate expands templates against one contact. Output is lowercased and
// syntactically validated; invalid candidates are dropped. Order follows
// template order and duplicates are not removed.
func Generate(c Contact, templates []string) []string {
	var out []string
	for _, tpl := range templates {
		if email, ok := expand(c, tpl); ok {
			out = append(out, email)
		}
	}
	return out
}

// expand substitutes one template. It reports false when the template
// references a contact field that is absent, or when the result is not a
// valid address.
func expand(c Contact, tpl string) (string, bool) {
	s := tpl

	if strings.Contains(s, tokFirst) || strings.Contains(s, tokF) {
		if c.FirstName == "" {
			return "", false
		}
		s = strings.ReplaceAll(s, tokFirst, c.FirstName)
		s = strings.ReplaceAll(s, tokF, c.FirstName[:1])
	}
	if strings.Contains(s, tokLast) || strings.Contains(s, tokL) {
		if c.LastName == "" {
			return "", false
		}
		s = strings.ReplaceAll(s, tokLast, c.LastName)
		s = strings.ReplaceAll(s, tokL, c.LastName[:1])
	}
	if strings.Contains(s, tokDomain) || strings.Contains(s, tokCompany) {
		if c.Domain == "" {
			return "", false
		}
		s = strings.ReplaceAll(s, tokDomain, c.Domain)
		s = strings.ReplaceAll(s, tokCompany, companyLabel(c.Domain))
	}

	s = strings.ToLower(strings.TrimSpace(s))
	if !IsValidEmail(s) {
		return "", false
	}
	return s, true
}

// companyLabel returns the substring of domain before its first dot.
func companyLabel(domain string) string {
	if i := strings.IndexByte(domain, '.'); i >= 0 {
		return domain[:i]
	}
	return domain
}

// IsValidEmail reports whether s is a structurally valid bare email address.
// It is a local syntactic check only; deliverability is the verification
// service's concern.
func IsValidEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	domain := s[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	// Reject display-name forms; only the bare address is a candidate.
	return addr.Address == s
}
