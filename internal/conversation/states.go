// File: internal/conversation/states.go
package conversation

// State is the position of a session in the collection flow.
type State string

const (
	StateNeedUsername  State = "need_username"
	StateIdle          State = "idle"
	StateNeedRecipient State = "need_recipient"
	StateNeedGmail     State = "need_gmail"
	StateNeedPassword  State = "need_password"
	StateReadyToSend   State = "ready_to_send"
)

// ReplyType tells the chat client what kind of answer it is looking at.
type ReplyType string

const (
	ReplyUsernameRequest  ReplyType = "username_request"
	ReplyGmailRequest     ReplyType = "gmail_request"
	ReplyPasswordRequest  ReplyType = "password_request"
	ReplyRecipientRequest ReplyType = "recipient_request"
	ReplyReadyToSend      ReplyType = "ready_to_send"
	ReplyGeneral          ReplyType = "general"
)

// triggerPhrases signal the intent to send a message. Matching is a
// case-insensitive substring search.
var triggerPhrases = []string{
	"send email",
	"send mail",
	"email to",
	"mail to",
	"compose email",
}

// Canned replies.
const (
	msgOnboarding = "Hi! I'm your email automation assistant. To get started, please tell me your name:"
	msgNameRetry  = "Please provide your full name (e.g., 'John Smith'):"

	msgWelcome = "Nice to meet you, %s! I'm your AI email automation assistant. I can help you send professional emails automatically.\n\n" +
		"Try saying something like:\n" +
		"• 'Send an email to hr@company.com about internship opportunity'\n" +
		"• 'Email john@example.com about project collaboration'\n" +
		"• 'Send a follow-up email to recruiter@startup.com'"

	msgRecipientFromTrigger = "I'll help you send an email to %s. What's your Gmail address?"
	msgAskRecipient         = "I'd be happy to help you send an email! What's the recipient's email address?"
	msgRecipientAccepted    = "Great! I'll send the email to %s. Now, what's your Gmail address?"
	msgRecipientRetry       = "Please provide a valid email address (e.g., example@company.com)."
	msgGmailAccepted        = "Got it! Using %s to send the email. Now please provide your Gmail password:"
	msgGmailRetry           = "Please provide a valid Gmail address (e.g., yourname@gmail.com):"
	msgPasswordRetry        = "Please provide your Gmail password:"
	msgReady                = "Perfect! Generating professional email content and sending to %s..."
)
