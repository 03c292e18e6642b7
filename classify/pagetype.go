// Package classify holds the pure classification tables: page type, form
// purpose, ecommerce event normalization and third-party tool detection.
//
// Tables are evaluated in order. For page types the first match wins; for
// form types later matches override earlier ones.
package classify

import (
	"regexp"
	"strings"
)

// Page type labels.
const (
	PageHome         = "home"
	PageOther        = "other"
	PageConfirmation = "confirmation"
	PageCheckout     = "checkout"
	PageCart         = "cart"
	PageProduct      = "product"
	PageCategory     = "category"
	PageBooking      = "booking"
	PageContact      = "contact"
	PagePricing      = "pricing"
	PageBlog         = "blog"
	PageAbout        = "about"
	PageServices     = "services"
	PageListing      = "listing"
	PageProvider     = "provider"
	PageCareers      = "careers"
	PageAccount      = "account"
	PageSearch       = "search"
)

type rule struct {
	pattern *regexp.Regexp
	label   string
}

var pageTypeRules = []rule{
	{regexp.MustCompile(`thank-?you|/thanks|order-?confirm|confirmation|order-?received|order-?complete|/success|booking-?confirmed|appointment-?confirmed`), PageConfirmation},
	{regexp.MustCompile(`/checkout|/payment|/billing`), PageCheckout},
	{regexp.MustCompile(`/(cart|basket|bag)(/|$)`), PageCart},
	{regexp.MustCompile(`/products?/|/item/|/p/`), PageProduct},
	{regexp.MustCompile(`/collections?(/|$)|/categor(y|ies)|/shop(/|$)|/store(/|$)`), PageCategory},
	{regexp.MustCompile(`book|appointment|schedul|reserv`), PageBooking},
	{regexp.MustCompile(`contact|get-in-touch|reach-us`), PageContact},
	{regexp.MustCompile(`pricing|/plans|/rates`), PagePricing},
	{regexp.MustCompile(`/blog|/news|/articles?/|/posts?/`), PageBlog},
	{regexp.MustCompile(`/about|/our-story|/team(/|$)`), PageAbout},
	{regexp.MustCompile(`/services?(/|$)|/treatments?(/|$)|/solutions(/|$)`), PageServices},
	{regexp.MustCompile(`/listings?(/|$)|/propert(y|ies)|homes-for-sale|real-estate`), PageListing},
	{regexp.MustCompile(`/(doctors?|providers?|physicians?|dentists?|agents?)(/|$)`), PageProvider},
	{regexp.MustCompile(`/careers?(/|$)|/jobs(/|$)`), PageCareers},
	{regexp.MustCompile(`/account|/login|/sign-?in|/register|/my-`), PageAccount},
	{regexp.MustCompile(`/search`), PageSearch},
}

// PageType classifies a URL path.
func PageType(path string) string {
	p := strings.ToLower(strings.TrimSpace(path))
	if p == "" || p == "/" || p == "/index.html" || p == "/index.php" {
		return PageHome
	}
	for _, r := range pageTypeRules {
		if r.pattern.MatchString(p) {
			return r.label
		}
	}
	return PageOther
}
