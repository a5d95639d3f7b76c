package command

import (
	"context"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

// CancelBookingCommand cancels a room booking.
type CancelBookingCommand struct {
	StudentID string
	BookingID string
	Reason    string
}

var cancelBooking = func() operation.Spec {
	s := post("cancel_booking",
		"Cancel a room booking.",
		"bookings", "bookings/{booking_id}/cancel/",
		operation.Param{Name: "student_id", Label: "Student ID"},
		operation.Param{Name: "booking_id", Label: "Booking ID"},
	)
	s.Optional = []operation.Filter{{Name: "reason"}}
	s.Body = func(a operation.Args) any {
		return optional(map[string]any{"student": a.Get("student_id")}, a, "reason")
	}
	return s
}()

// CancelBooking cancels a booking.
func (s *Service) CancelBooking(ctx context.Context, cmd CancelBookingCommand) result.Envelope {
	return s.runner.Run(ctx, cancelBooking, operation.Args{
		"student_id": cmd.StudentID,
		"booking_id": cmd.BookingID,
		"reason":     cmd.Reason,
	})
}
