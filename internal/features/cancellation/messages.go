package cancellation

import (
	"fmt"
	"strings"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/bookings"
	"trafikskola.se/payments/internal/notify"
)

func bookingLine(b *bookings.LessonBooking) string {
	name := b.LessonTypeName
	if name == "" {
		name = "Körlektion"
	}
	return fmt.Sprintf("  • %s %s %s", name, common.FormatDate(b.ScheduledDate), b.StartTime)
}

// cancellationMessages builds one message per user group and one per
// distinct guest email. Guests without an email get nothing.
func cancellationMessages(groups []*userGroup, guests []*bookings.LessonBooking, reimbursed bool) []notify.Message {
	msgs := make([]notify.Message, 0, len(groups)+len(guests))

	for _, g := range groups {
		if !g.contact.Reachable() {
			continue
		}
		uid := g.userID
		msgs = append(msgs, notify.Message{
			To:      g.contact.Email,
			Subject: "Avbokade lektioner",
			Body:    cancellationBody(g.contact.Name, g.bookings, reimbursed),
			Kind:    notify.KindBookingCancelled,
			UserID:  &uid,
		})
	}

	byEmail := make(map[string][]*bookings.LessonBooking)
	var order []string
	for _, b := range guests {
		c := b.Owner()
		if !c.Reachable() {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(c.Email))
		if _, ok := byEmail[key]; !ok {
			order = append(order, key)
		}
		byEmail[key] = append(byEmail[key], b)
	}
	for _, email := range order {
		bs := byEmail[email]
		msgs = append(msgs, notify.Message{
			To:      email,
			Subject: "Avbokade lektioner",
			Body:    cancellationBody(bs[0].Owner().Name, bs, false),
			Kind:    notify.KindBookingCancelled,
		})
	}
	return msgs
}

func cancellationBody(name string, bs []*bookings.LessonBooking, reimbursed bool) string {
	var sb strings.Builder
	if name != "" {
		fmt.Fprintf(&sb, "Hej %s!\n\n", name)
	} else {
		sb.WriteString("Hej!\n\n")
	}
	fmt.Fprintf(&sb, "Följande %s har avbokats av trafikskolan:\n", common.PluralizeBookings(len(bs)))
	for _, b := range bs {
		sb.WriteString(bookingLine(b) + "\n")
	}
	if reimbursed {
		n := 0
		for _, b := range bs {
			if b.LessonTypeID != nil {
				n++
			}
		}
		if n > 0 {
			fmt.Fprintf(&sb, "\n%s har lagts tillbaka på ditt konto.\n", common.FormatCredits(n))
		}
	}
	sb.WriteString("\nKontakta oss om du har frågor.")
	return sb.String()
}

func summaryMessage(op Operator, stats *Stats, requested int) notify.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Begärda: %d\nBorttagna: %d (varav gäster: %d)\n", requested, stats.Deleted, stats.GuestDeleted)
	fmt.Fprintf(&sb, "Återbetalade krediter: %d\n", stats.CreditsReimbursed)
	fmt.Fprintf(&sb, "Aviseringar: %d skickade, %d misslyckade",
		stats.NotificationsAttempted-stats.NotificationsFailed, stats.NotificationsFailed)

	return notify.Message{
		To:      op.Email,
		Subject: fmt.Sprintf("%d %s borttagna", stats.Deleted, common.PluralizeBookings(stats.Deleted)),
		Body:    sb.String(),
		Kind:    notify.KindOperatorSummary,
	}
}
