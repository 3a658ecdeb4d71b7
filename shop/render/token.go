package render

import "strings"

// Button payload verbs. A payload is the verb, a space, and an optional argument.
const (
	VerbAdd      = "add"
	VerbBack     = "back"
	VerbCart     = "cart"
	VerbRemove   = "remove"
	VerbMenu     = "menu"
	VerbCheckout = "checkout"
	VerbConfirm  = "confirm"
	VerbReject   = "reject"
	VerbPickup   = "pickup"
	VerbDeliver  = "deliver"
	VerbPay      = "pay"
	VerbCategory = "category"
)

var knownVerbs = map[string]struct{}{
	VerbAdd: {}, VerbBack: {}, VerbCart: {}, VerbRemove: {}, VerbMenu: {}, VerbCheckout: {},
	VerbConfirm: {}, VerbReject: {}, VerbPickup: {}, VerbDeliver: {}, VerbPay: {}, VerbCategory: {},
}

// Token encodes a payload for a button.
func Token(verb, arg string) string {
	if arg == "" {
		return verb
	}
	return verb + " " + arg
}

// Parse splits a payload into its verb and argument.
// Text whose first word is not a known verb yields an empty verb and the whole trimmed text as arg.
func Parse(text string) (verb, arg string) {
	text = strings.TrimSpace(text)
	head, rest, _ := strings.Cut(text, " ")
	if _, ok := knownVerbs[head]; ok {
		return head, strings.TrimSpace(rest)
	}
	return "", text
}
