package payment

import (
	"regexp"
	"strings"
)

// receiptPatterns match an explicit receipt reference a user typed into a
// message. Each form needs a colon, so prose mentioning a receipt is left
// alone.
var receiptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)#receipt:\s*([a-zA-Z0-9\-_]+)`),
	regexp.MustCompile(`(?i)\bpayment[_\s]?receipt:\s*([a-zA-Z0-9\-_]+)`),
	regexp.MustCompile(`(?i)\breceipt[_\s]?id:\s*([a-zA-Z0-9\-_]+)`),
}

// ExtractReceipt finds a receipt reference in text and returns it with the
// reference removed from the body.
func ExtractReceipt(text string) (receiptID, body string) {
	for _, re := range receiptPatterns {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		receiptID = text[loc[2]:loc[3]]
		body = strings.TrimSpace(strings.TrimSpace(text[:loc[0]]) + " " + strings.TrimSpace(text[loc[1]:]))
		return receiptID, body
	}
	return "", text
}
