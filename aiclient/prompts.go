package aiclient

import (
	"fmt"
	"strings"
)

// Stage1Prompt returns the user prompt for the stage-one content analysis.
// The instructions here drive the short-response triage downstream: the model
// is told to answer "Website inaccessible" or "Placeholder page" verbatim
// when the site cannot be analyzed.
func Stage1Prompt() string {
	return strings.Join([]string{
		"You are a website content analyzer optimized for extracting structured business intelligence.",
		"Analyze website content and provide comprehensive business characteristics.",
		"All responses must be in English only, regardless of original content language.",
		"If the urlContext tool fails to access the website, clearly state 'Website inaccessible' and stop analysis.",
		"If the website shows a coming soon page, maintenance page, parked domain, hosting placeholder, suspended page, or domain-for-sale page, clearly state 'Placeholder page' and stop analysis.",
		"If the website is functional and suitable for analysis, proceed according to the instructions below.",
		"Focus on semantic understanding to extract meaningful business insights.",
		"For fields requiring URL detection, return the exact URL including subdomains if present.",
		"When analyzing contact information, examine contact pages, legal and privacy pages, about pages, and footer sections to extract all available emails, phone numbers, and physical addresses.",
		"Provide responses for ALL fields and indicators below. If not found, write 'Not detected'. If found, describe in one sentence what exactly was detected.",
		"",
		"DETECTORS: b2c_detected, b2b_detected, personal_project_detected, local_business_detected, pricing_page_detected, blog_detected, ecommerce_detected, hiring_detected, api_available_detected, contact_page_detected, payment_methods_detected, analytics_tools_detected, knowledge_base_detected, subscription_detected, monetizes_via_ads_detected, saas_detected, recruits_affiliates_detected, community_platform_detected, funding_received_detected, disposable_site_detected, mobile_first_detected.",
		"",
		"TEXT FIELDS: website_summary (5-7 sentence summary, neutral terms instead of brand names, format [Category] + [Core Function] + [Target/Scope]), similarity_search_phrases (3-4 comma-separated keyword phrases for finding similar websites), vector_search_phrase (one precise 4-5 word phrase capturing the business essence), cms_platform, primary_language (ISO 639-1 code), target_age_group, target_gender, geo_scope, contact emails, phone numbers, and physical addresses.",
	}, "\n")
}

// Stage2SystemPrompt returns the system prompt for the stage-two structured
// classification. segmentHint is the machine segmentation of the domain core
// that the model is asked to confirm or correct; the response must echo its
// final segmentation so validation can compare the two.
func Stage2SystemPrompt(segmentHint string) string {
	sections := []string{
		"You are a website content analyzer optimized for extracting structured business intelligence.",
		"Analyze website content and provide comprehensive business characteristics as JSON.",
		"",
		"RESPONSE STANDARDS:",
		"Return an empty string instead of placeholder values like 'unknown', 'unclear', 'unavailable'.",
		"Focus on semantic understanding to extract meaningful business insights.",
		"For optional URL fields: provide a valid URL if detected, otherwise omit the field entirely from the response.",
		"",
		"CONTENT VALIDATION:",
		"The input content may contain errors such as brand names instead of neutral terms and verbose marketing filler. Double-check and restructure content according to these requirements during generation.",
		"",
		"SPECIAL ATTENTION for summary and similarity_search_phrases fields:",
		"Optimize responses for vectorization by avoiding meaningless noise words.",
		"Do not use site names, brand names, proper names, or numbers.",
		"Replace brand names or website names with neutral terms like website, platform, service, tool.",
		"",
		"For SUMMARY: immediately highlight the platform's useful features using format [Category/Adjective] + [Core Function] + [Target/Scope]. Do not start with 'this is', 'the website', or company names.",
		"",
		"For SIMILARITY_SEARCH_PHRASES: build 3-4 keyword phrases for finding similar websites. Focus on core business function plus industry or technology.",
	}

	if segmentHint != "" {
		sections = append(sections,
			"",
			"DOMAIN FORMATION ANALYSIS:",
			fmt.Sprintf("For this website, automatic segmentation algorithms suggested: %q.", segmentHint),
			"This segmentation may be wrong: the algorithms rely on English dictionary patterns and ignore business context and non-English terminology.",
			"Provide semantically correct segmentation from the website owner's perspective. Return properly segmented words separated by spaces that reconstruct the domain core when joined without spaces. Ignore hyphens in the domain core. Preserve non-English words as-is.",
			"Classify the domain formation pattern as one of: dictionary_word, compound_words, coined_word, portmanteau, truncated_word, acronym, initialism, personal_name, geographic_name, numeric_hybrid, transliterated, hybrid_formation, unclear_formation.",
		)
	}

	return strings.Join(sections, "\n")
}
