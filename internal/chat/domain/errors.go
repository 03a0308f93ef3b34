package domain

import "orderchat.com/pkg/xerr"

// Store implementations return these as-is so callers can match them with errors.Is.
var (
	ErrOrderNotFound        = xerr.New(xerr.RecordNotFound, "Order not found")
	ErrChannelNotFound      = xerr.New(xerr.RecordNotFound, "Chat room not found")
	ErrChannelClosed        = xerr.New(xerr.Forbidden, "Chat room is closed")
	ErrChannelAlreadyClosed = xerr.New(xerr.Forbidden, "Chat room is already closed")
	ErrNotParticipant       = xerr.New(xerr.Forbidden, "Access denied")
	ErrNotAdmin             = xerr.New(xerr.Forbidden, "Only admins can close chat rooms")
	ErrAdminOnly            = xerr.New(xerr.Forbidden, "Admin access required")
	ErrInvalidStatus        = xerr.New(xerr.RequestParamsError, "Invalid order status")
)
