package flow

import (
	"fmt"
	"strings"

	"orderflow.app/engine/internal/model"
)

// Guest-count pricing tiers. Up to the small-event threshold we only
// recommend the takeaway menu; between the thresholds the self-service
// package applies, above them the staffed package.
const (
	smallEventMax      = 60
	selfServiceMax     = 120
	selfServicePerHead = 100
	staffedPerHead     = 80
)

// guestTotal prices the order from the guest count. Small events have no
// package price; they get a menu recommendation instead.
func guestTotal(guests int) int64 {
	switch {
	case guests < smallEventMax:
		return 0
	case guests <= selfServiceMax:
		return int64(guests) * selfServicePerHead
	default:
		return int64(guests) * staffedPerHead
	}
}

// ComposeSummary renders the running conversation summary: the customer
// details block first, then the order progress block. Every outbound message
// leads with this summary so the customer always sees what we know.
func ComposeSummary(state *model.SessionState) string {
	var b strings.Builder
	b.WriteString(customerBlock(state))
	b.WriteString("\n\n")
	b.WriteString(progressBlock(state))
	return b.String()
}

func customerBlock(state *model.SessionState) string {
	var customer []string
	if name := state.Profile.FullName(); name != "" {
		customer = append(customer, "Name: "+name)
	} else {
		customer = append(customer, "Name: not provided yet")
	}
	if state.Profile.CompanyName != "" {
		customer = append(customer, "Company: "+state.Profile.CompanyName)
	} else {
		customer = append(customer, "Company: not provided yet")
	}
	if state.Profile.EventAddress != "" {
		customer = append(customer, "Event address: "+state.Profile.EventAddress)
	} else {
		customer = append(customer, "Event address: not provided yet")
	}
	return "Customer details:\n" + strings.Join(customer, "\n")
}

func progressBlock(state *model.SessionState) string {
	var order []string
	if state.Profile.EventDate != "" {
		order = append(order, "Event date: "+state.Profile.EventDate)
	} else {
		order = append(order, "Event date: not provided yet")
	}
	order = append(order, orderLines(state.Order)...)
	return "Order progress:\n" + strings.Join(order, "\n")
}

func orderLines(order *model.OrderState) []string {
	var lines []string

	if order == nil || order.GuestCount == nil {
		lines = append(lines,
			"Guests: not provided yet",
			"Package: determined by guest count")
	} else {
		guests := *order.GuestCount
		lines = append(lines, fmt.Sprintf("Guests: %d", guests))
		switch {
		case guests < smallEventMax:
			lines = append(lines, "Package: below the event minimum, the takeaway menu is recommended")
		case guests <= selfServiceMax:
			lines = append(lines, fmt.Sprintf("Package: self-service, %d total", guestTotal(guests)))
		default:
			lines = append(lines, fmt.Sprintf("Package: staffed service, %d total", guestTotal(guests)))
		}
	}

	switch {
	case order == nil || order.AgeVerified == nil:
		lines = append(lines, "Age check: pending")
	case *order.AgeVerified:
		lines = append(lines, "Age check: passed")
	default:
		lines = append(lines, "Age check: failed")
	}

	if order != nil {
		if order.PricingApproved {
			lines = append(lines, "Pricing: adjusted pricing approved by "+order.ApprovedBy)
		}
	}
	return lines
}
