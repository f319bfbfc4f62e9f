// internal/drafter/template.go
package drafter

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// DefaultSenderName signs letters when no name was collected.
	DefaultSenderName = "Professional User"

	inquirySubject       = "Professional Inquiry"
	communicationSubject = "Professional Communication"
)

// inquiryLetter is used when the model answered but nothing usable could be parsed.
func inquiryLetter(request, name string) EmailContent {
	return EmailContent{
		Subject: inquirySubject,
		Body:    letter(request, "Thank you for your consideration.", name),
	}
}

// communicationLetter is used when the model could not be reached at all.
func communicationLetter(request, name string) EmailContent {
	return EmailContent{
		Subject: communicationSubject,
		Body:    letter(request, "Thank you for your time and consideration.", name),
	}
}

func letter(request, closing, name string) string {
	return fmt.Sprintf("Dear Recipient,\n\nI hope this email finds you well.\n\n%s\n\n%s\n\nBest regards,\n%s", request, closing, name)
}

// ensureSignature appends a sign-off when the body never mentions the sender.
func ensureSignature(body, name string) string {
	if strings.Contains(strings.ToLower(body), strings.ToLower(name)) {
		return body
	}
	return strings.TrimRightFunc(body, unicode.IsSpace) + "\n\nBest regards,\n" + name
}
