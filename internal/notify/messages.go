package notify

import (
	"fmt"
	"strings"
)

// BookingDetails is what booking notifications say about an appointment.
type BookingDetails struct {
	ProviderName  string
	ProviderEmail string
	VisitorName   string
	VisitorEmail  string
	VisitorPhone  string
	Notes         string
	Date          string // YYYY-MM-DD
	Start         string // HH:MM
	End           string // HH:MM
	TimeZone      string
	SessionFormat string
	// AccessURL is the visitor's read-only booking link.
	AccessURL string
	// CancelURL carries the separate token that lets the visitor cancel.
	CancelURL string
}

func (d BookingDetails) when() string {
	when := fmt.Sprintf("%s %s-%s", d.Date, d.Start, d.End)
	if d.TimeZone != "" {
		when += " (" + d.TimeZone + ")"
	}
	return when
}

// VerificationRequest asks the visitor to confirm their email address.
func VerificationRequest(d BookingDetails, verifyURL string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", d.VisitorName)
	fmt.Fprintf(&b, "Please confirm your email to send your request to %s for %s.\n\n", d.ProviderName, d.when())
	fmt.Fprintf(&b, "Confirm here: %s\n\nThis link expires in 24 hours.\n", verifyURL)
	if d.CancelURL != "" {
		fmt.Fprintf(&b, "\nChanged your mind? Cancel the request: %s\n", d.CancelURL)
	}
	return Message{
		To:      d.VisitorEmail,
		ToName:  d.VisitorName,
		Subject: "Confirm your booking request",
		Body:    b.String(),
		Kind:    "verification",
	}
}

// ProviderNewRequest tells the provider a verified request is waiting.
func ProviderNewRequest(d BookingDetails) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "New booking request from %s for %s.\n\n", d.VisitorName, d.when())
	fmt.Fprintf(&b, "Email: %s\n", d.VisitorEmail)
	if d.VisitorPhone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", d.VisitorPhone)
	}
	if d.SessionFormat != "" {
		fmt.Fprintf(&b, "Format: %s\n", d.SessionFormat)
	}
	if d.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", d.Notes)
	}
	return Message{
		To:      d.ProviderEmail,
		ToName:  d.ProviderName,
		Subject: fmt.Sprintf("New booking request: %s", d.when()),
		Body:    b.String(),
		Kind:    "provider_new_request",
	}
}

// VisitorConfirmed tells the visitor the provider accepted the booking.
func VisitorConfirmed(d BookingDetails) Message {
	body := fmt.Sprintf("Hi %s,\n\n%s confirmed your booking for %s.\n", d.VisitorName, d.ProviderName, d.when())
	if d.AccessURL != "" {
		body += "\nView your booking: " + d.AccessURL + "\n"
	}
	if d.CancelURL != "" {
		body += "Need to cancel? " + d.CancelURL + "\n"
	}
	return Message{
		To:      d.VisitorEmail,
		ToName:  d.VisitorName,
		Subject: "Your booking is confirmed",
		Body:    body,
		Kind:    "visitor_confirmed",
	}
}

// Cancelled notifies the party that did not cancel. cancelledByProvider
// selects the recipient.
func Cancelled(d BookingDetails, cancelledByProvider bool, reason string) Message {
	msg := Message{Subject: fmt.Sprintf("Booking cancelled: %s", d.when()), Kind: "cancelled"}
	var b strings.Builder
	if cancelledByProvider {
		msg.To, msg.ToName = d.VisitorEmail, d.VisitorName
		fmt.Fprintf(&b, "Hi %s,\n\n%s cancelled your booking for %s.\n", d.VisitorName, d.ProviderName, d.when())
	} else {
		msg.To, msg.ToName = d.ProviderEmail, d.ProviderName
		fmt.Fprintf(&b, "%s cancelled their booking for %s.\n", d.VisitorName, d.when())
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		fmt.Fprintf(&b, "\nReason: %s\n", reason)
	}
	msg.Body = b.String()
	return msg
}
