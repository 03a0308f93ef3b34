// Package access holds the chat authorization rules. Both checks are pure.
package access

import "orderchat.com/internal/chat/domain"

// AuthorizeParticipant allows only the order owner. Admins are not participants.
func AuthorizeParticipant(p domain.Principal, o domain.Order) error {
	if p.ID == 0 || p.ID != o.OwnerID {
		return domain.ErrNotParticipant
	}
	return nil
}

func AuthorizeClose(p domain.Principal) error {
	if !p.IsAdmin() {
		return domain.ErrNotAdmin
	}
	return nil
}

// AuthorizeAdmin guards the read-only admin views such as chat history.
func AuthorizeAdmin(p domain.Principal) error {
	if !p.IsAdmin() {
		return domain.ErrAdminOnly
	}
	return nil
}
