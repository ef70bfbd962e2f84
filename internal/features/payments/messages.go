package payments

import (
	"fmt"
	"strings"
	"time"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/bookings"
	"trafikskola.se/payments/internal/notify"
)

func greeting(c bookings.Contact) string {
	if c.Name == "" {
		return "Hej!"
	}
	return "Hej " + c.Name + "!"
}

// confirmationMessages builds the two confirmation notifications. Nothing
// is returned when the owner has no address.
func confirmationMessages(c bookings.Contact, sum Summary, creditsGranted int, paidAt time.Time) []notify.Message {
	if !c.Reachable() {
		return nil
	}

	paid := notify.Message{
		To:      c.Email,
		Subject: "Betalning bekräftad",
		Body: fmt.Sprintf("%s\n\nVi har tagit emot din betalning på %s för %s (registrerad %s).",
			greeting(c), common.FormatSEK(sum.Amount), sum.Title, common.FormatDateTime(paidAt)),
		Kind:   notify.KindPaymentConfirmed,
		UserID: c.UserID,
	}

	var body strings.Builder
	body.WriteString(greeting(c) + "\n\n")
	subject := "Bokning bekräftad"
	if sum.Kind == common.KindPackage {
		subject = "Beställning bekräftad"
		fmt.Fprintf(&body, "Din beställning av %s är bekräftad.", sum.Title)
		if creditsGranted > 0 {
			fmt.Fprintf(&body, " %s har lagts till på ditt konto.", common.FormatCredits(creditsGranted))
		}
	} else {
		fmt.Fprintf(&body, "Din bokning av %s %s är bekräftad. Välkommen!", sum.Title, sum.When)
	}

	booked := notify.Message{
		To:      c.Email,
		Subject: subject,
		Body:    body.String(),
		Kind:    notify.KindBookingConfirmed,
		UserID:  c.UserID,
	}
	return []notify.Message{paid, booked}
}

func reminderMessage(c bookings.Contact, sum Summary) notify.Message {
	what := sum.Title
	if sum.When != "" {
		what += " " + sum.When
	}
	return notify.Message{
		To:      c.Email,
		Subject: "Påminnelse om betalning",
		Body: fmt.Sprintf("%s\n\nVi har ännu inte fått din betalning på %s för %s. "+
			"Vänligen betala så snart som möjligt.", greeting(c), common.FormatSEK(sum.Amount), what),
		Kind:   notify.KindPaymentReminder,
		UserID: c.UserID,
	}
}
