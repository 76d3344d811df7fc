package notify

import (
	"log"
	"time"

	alarms "waterwatch/internal/alarms/domain"
)

// Route selects the contacts eligible for a notification: enabled,
// in the target group, on duty for the weekday and clock window at now.
// An empty result is a valid, logged outcome, not an error.
func Route(group string, contacts []alarms.Contact, now time.Time, logger *log.Logger) []alarms.Contact {
	var selected []alarms.Contact
	seen := make(map[string]struct{})
	for _, contact := range contacts {
		if contact.Group != group {
			continue
		}
		if err := contact.Validate(); err != nil {
			// Configuration error: skip this contact, others proceed.
			if logger != nil {
				logger.Printf("contact skipped name=%s err=%v", contact.Name, err)
			}
			continue
		}
		if !contact.OnDuty(now) {
			continue
		}
		if _, ok := seen[contact.MSISDN]; ok {
			continue
		}
		seen[contact.MSISDN] = struct{}{}
		selected = append(selected, contact)
	}
	return selected
}
