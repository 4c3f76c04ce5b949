package correlator

import (
	"strings"

	"github.com/sweeney/asterisk-ledger/internal/phone"
	"github.com/sweeney/asterisk-ledger/internal/store"
)

// NotRegistered stands in for the name of a number with no directory entry.
const NotRegistered = "Not registered"

// DisplayIdentity composes the caller name shown on the answering handset.
// Internal callers show only their name; external ones are prefixed with
// the number.
func DisplayIdentity(number string, kind phone.Kind, contact *store.Contact) string {
	if contact == nil {
		return number + " - " + NotRegistered
	}

	// A city alone does not identify anyone.
	if strings.TrimSpace(contact.Name) == "" {
		return number
	}
	label := strings.TrimSpace(contact.Name)
	if contact.City != "" {
		label += " (" + contact.City + ")"
	}
	if kind == phone.KindInternal {
		return label
	}
	return number + " - " + label
}
