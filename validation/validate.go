// Package validation checks and cleans the structured stage-two payload
// before it is persisted. Cleaning is idempotent: running Validate over an
// already-cleaned payload returns it unchanged with no issues.
package validation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Payload is the structured classification produced by stage two, reduced to
// the fields the pipeline persists.
type Payload struct {
	Summary          string `json:"website_summary"`
	SearchPhrases    string `json:"similarity_search_phrases"`
	VectorPhrase     string `json:"vector_search_phrase,omitempty"`
	PrimaryLanguage  string `json:"primary_language,omitempty"`
	CMSPlatform      string `json:"cms_platform,omitempty"`
	TargetAgeGroup   string `json:"target_age_group,omitempty"`
	TargetGender     string `json:"target_gender,omitempty"`
	GeoScope         string `json:"geo_scope,omitempty"`
	SegmentsFull     string `json:"segments_full,omitempty"`
	SegmentsLanguage string `json:"segments_language,omitempty"`
	FormationPattern string `json:"domain_formation_pattern,omitempty"`

	Emails []string `json:"contact_emails,omitempty"`
	Phones []string `json:"contact_phones,omitempty"`

	BlogURL        string `json:"blog_url,omitempty"`
	ContactPageURL string `json:"contact_page_url,omitempty"`
	AffiliatesURL  string `json:"recruits_affiliates_url,omitempty"`

	DisposableSite  bool `json:"disposable_site_detected"`
	FundingReceived bool `json:"funding_received_detected"`
}

// Issue records a non-fatal problem that was cleaned away. The task still
// validates; issues are persisted alongside the result for audit.
type Issue struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// Decode parses the raw stage-two response body into a Payload.
func Decode(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decoding stage2 payload: %w", err)
	}
	return p, nil
}

// Validate cleans the payload in three passes: fatal structural checks,
// access-issue scrubbing of free-text fields, and per-field format validation
// (emails, phones, URLs, segmentation echo). Non-fatal problems are scrubbed
// and reported as issues; a fatal problem returns an error and the task fails.
func Validate(p Payload, domain, segmentHint string) (Payload, []Issue, error) {
	if strings.TrimSpace(p.Summary) == "" {
		return Payload{}, nil, fmt.Errorf("payload missing website summary")
	}
	if strings.TrimSpace(p.SearchPhrases) == "" {
		return Payload{}, nil, fmt.Errorf("payload missing similarity search phrases")
	}

	var issues []Issue
	scrub := func(field string, value *string) {
		if hasAccessIssue(*value, field) {
			issues = append(issues, Issue{Field: field, Detail: fmt.Sprintf("access-issue placeholder %q scrubbed", *value)})
			*value = ""
		}
	}
	scrub("vector_search_phrase", &p.VectorPhrase)
	scrub("cms_platform", &p.CMSPlatform)
	scrub("target_age_group", &p.TargetAgeGroup)
	scrub("target_gender", &p.TargetGender)
	scrub("geo_scope", &p.GeoScope)
	scrub("segments_language", &p.SegmentsLanguage)
	scrub("domain_formation_pattern", &p.FormationPattern)

	p.PrimaryLanguage = cleanLanguageCode(p.PrimaryLanguage)

	if p.DisposableSite && p.FundingReceived {
		issues = append(issues, Issue{Field: "funding_received_detected", Detail: "contradicts disposable site flag, cleared"})
		p.FundingReceived = false
	}

	var emails []string
	for _, e := range p.Emails {
		cleaned := strings.ToLower(strings.TrimSpace(e))
		if !ValidEmail(cleaned) {
			issues = append(issues, Issue{Field: "contact_emails", Detail: fmt.Sprintf("invalid email %q dropped", e)})
			continue
		}
		emails = append(emails, cleaned)
	}
	p.Emails = emails

	var phones []string
	for _, ph := range p.Phones {
		cleaned := cleanPhone(ph)
		if !ValidPhoneE164(cleaned) {
			issues = append(issues, Issue{Field: "contact_phones", Detail: fmt.Sprintf("invalid phone %q dropped", ph)})
			continue
		}
		phones = append(phones, cleaned)
	}
	p.Phones = phones

	checkURL := func(field string, value *string) {
		if *value == "" {
			return
		}
		normalized := normalizeURLField(*value, domain)
		if normalized == "" {
			issues = append(issues, Issue{Field: field, Detail: fmt.Sprintf("invalid or self-referencing url %q dropped", *value)})
		}
		*value = normalized
	}
	checkURL("blog_url", &p.BlogURL)
	checkURL("contact_page_url", &p.ContactPageURL)
	checkURL("recruits_affiliates_url", &p.AffiliatesURL)

	if segmentHint != "" && p.SegmentsFull != "" && !segmentsMatch(segmentHint, p.SegmentsFull) {
		issues = append(issues, Issue{Field: "segments_full", Detail: fmt.Sprintf("segmentation echo %q does not reconstruct hint %q, cleared", p.SegmentsFull, segmentHint)})
		p.SegmentsFull = ""
		p.FormationPattern = ""
	}
	if p.SegmentsLanguage != "" && !validSegmentsLanguage(p.SegmentsLanguage) {
		issues = append(issues, Issue{Field: "segments_language", Detail: fmt.Sprintf("invalid language %q cleared", p.SegmentsLanguage)})
		p.SegmentsLanguage = ""
	}

	return p, issues, nil
}

// ValidEmail accepts addresses with exactly one @ and a dotted domain part.
func ValidEmail(email string) bool {
	if email == "" || strings.Count(email, "@") != 1 {
		return false
	}
	local, domain, _ := strings.Cut(email, "@")
	return local != "" && domain != "" && strings.Contains(domain, ".")
}

// ValidPhoneE164 accepts a leading + followed by 7 to 15 digits.
func ValidPhoneE164(phone string) bool {
	if !strings.HasPrefix(phone, "+") {
		return false
	}
	digits := phone[1:]
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// cleanPhone strips formatting characters before E.164 validation.
func cleanPhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeURL lowercase-checks the scheme, drops the fragment and ensures a
// trailing slash. Returns "" for anything that is not an absolute http(s) URL.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.Fragment = ""
	normalized := u.String()
	if !strings.HasSuffix(normalized, "/") {
		normalized += "/"
	}
	return normalized
}

// normalizeURLField normalizes and additionally drops URLs that just point
// back at the site root, which carry no information.
func normalizeURLField(raw, baseDomain string) string {
	normalized := NormalizeURL(raw)
	if normalized == "" {
		return ""
	}
	base := NormalizeURL("https://" + baseDomain + "/")
	if strings.EqualFold(normalized, base) {
		return ""
	}
	return normalized
}

// segmentsMatch reports whether the model's segmentation reconstructs the
// hint once whitespace and case are stripped from both sides.
func segmentsMatch(hint, echoed string) bool {
	norm := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, " ", ""))
	}
	return norm(hint) == norm(echoed)
}

func validSegmentsLanguage(code string) bool {
	c := strings.ToLower(strings.TrimSpace(code))
	if c == "mixed" || c == "unknown" {
		return true
	}
	return len(c) == 2 && isAlpha(c)
}

// cleanLanguageCode reduces locale-style values (en-US, en_GB) to the ISO
// 639-1 code and clears anything else.
func cleanLanguageCode(value string) string {
	c := strings.ToLower(strings.TrimSpace(value))
	if c == "" {
		return ""
	}
	if len(c) == 2 && isAlpha(c) {
		return c
	}
	for _, sep := range []string{"-", "_"} {
		if part, _, found := strings.Cut(c, sep); found && len(c) <= 6 {
			if len(part) == 2 && isAlpha(part) {
				return part
			}
		}
	}
	return ""
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// exact-match placeholder values; substring checks live in substrIssues.
var exactIssues = map[string]struct{}{
	"unspecified": {}, "cannot be determined": {}, "not detected": {},
	"error": {}, "failed": {}, "blocked": {}, "forbidden": {},
	"restricted": {}, "timeout": {}, "unreachable": {},
	"this platform": {}, "string": {}, "n/a": {}, "none": {}, "null": {},
	"unknown": {},
}

var substrIssues = []string{
	"unclear", "unavailable", "not available", "not accessible",
	"inaccessible", "not determinable", "unable", "cannot access",
	"can't access", "access denied", "access failed", "access error",
	"no access", "site blocked", "website error", "site error",
	"website failed", "site failed", "website timeout", "site timeout",
	"website unreachable", "site unreachable",
}

// hasAccessIssue reports whether a free-text field carries an access-failure
// placeholder instead of real content. Enum fields keep their legitimate
// "unspecified" value, and segments_language keeps "mixed"/"unknown" and ISO
// codes.
func hasAccessIssue(value, field string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}

	switch field {
	case "target_age_group", "target_gender", "domain_formation_pattern":
		if v == "unspecified" {
			return false
		}
	case "segments_language":
		if v == "mixed" || v == "unknown" || (len(v) == 2 && isAlpha(v)) {
			return false
		}
	}

	if _, ok := exactIssues[v]; ok {
		return true
	}
	for _, s := range substrIssues {
		if strings.Contains(v, s) {
			return true
		}
	}
	return false
}
