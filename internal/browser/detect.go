package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var robotCheckSelectors = []string{
	`form[action*="validateCaptcha"]`,
	`#captchacharacters`,
	`img[src*="captcha"]`,
}

var robotCheckPhrases = []string{
	"enter the characters you see below",
	"sorry, we just need to make sure you're not a robot",
	"type the characters you see in this image",
}

// IsRobotCheck reports whether the document is the site's captcha
// interstitial instead of the requested page.
func IsRobotCheck(title, html string) bool {
	if strings.Contains(strings.ToLower(title), "robot check") {
		return true
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	for _, sel := range robotCheckSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}

	text := strings.ToLower(doc.Find("body").Text())
	for _, phrase := range robotCheckPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// IsSignInURL reports whether a navigation ended on the sign-in flow.
func IsSignInURL(url string) bool {
	u := strings.ToLower(url)
	return strings.Contains(u, "signin") || strings.Contains(u, "/ap/")
}

// LoggedIn inspects the navigation bar of a storefront page.
func LoggedIn(url, html string) bool {
	if IsSignInURL(url) {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	greeting := strings.ToLower(strings.TrimSpace(doc.Find("#nav-link-accountList-nav-line-1").First().Text()))
	if greeting == "" {
		greeting = strings.ToLower(strings.TrimSpace(doc.Find("#nav-link-accountList").First().Text()))
	}

	switch {
	case strings.Contains(greeting, "sign in"):
		return false
	case strings.HasPrefix(greeting, "hello"):
		return true
	}

	// only rendered for signed-in customers
	return doc.Find(`#nav-orders`).Length() > 0 && doc.Find(`[data-nav-role="signin"]`).Length() == 0
}
