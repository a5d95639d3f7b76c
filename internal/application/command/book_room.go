package command

import (
	"context"
	"errors"
	"strconv"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
	"github.com/mahan-lms/lms-assistant/pkg/timeutil"
)

// BookRoomCommand books a study or meeting room for a time slot.
type BookRoomCommand struct {
	StudentID string
	RoomID    string
	Date      string // YYYY-MM-DD
	StartTime string // HH:MM
	EndTime   string // HH:MM
	Purpose   string
	Attendees int
}

var bookRoom = func() operation.Spec {
	s := post("book_room",
		"Book a room for a time slot.",
		"bookings", "bookings/",
		operation.Param{Name: "student_id", Label: "Student ID"},
		operation.Param{Name: "room_id", Label: "Room ID"},
		operation.Param{Name: "date", Label: "Booking date"},
		operation.Param{Name: "start_time", Label: "Start time"},
		operation.Param{Name: "end_time", Label: "End time"},
	)
	s.Optional = []operation.Filter{{Name: "purpose"}, {Name: "attendees"}}
	s.Check = func(a operation.Args) error {
		if _, err := timeutil.ParseDate(a.Get("date")); err != nil {
			return err
		}
		if err := timeutil.ValidateSlot(a.Get("start_time"), a.Get("end_time")); err != nil {
			return err
		}
		if v := a.Get("attendees"); v != "" {
			if n, err := strconv.Atoi(v); err != nil || n < 1 {
				return errors.New("attendees must be a positive number")
			}
		}
		return nil
	}
	s.Body = func(a operation.Args) any {
		body := optional(map[string]any{
			"student":    a.Get("student_id"),
			"room":       a.Get("room_id"),
			"date":       a.Get("date"),
			"start_time": a.Get("start_time"),
			"end_time":   a.Get("end_time"),
		}, a, "purpose")
		if n, err := strconv.Atoi(a.Get("attendees")); err == nil {
			body["attendees"] = n
		}
		return body
	}
	return s
}()

// BookRoom books a room.
func (s *Service) BookRoom(ctx context.Context, cmd BookRoomCommand) result.Envelope {
	args := operation.Args{
		"student_id": cmd.StudentID,
		"room_id":    cmd.RoomID,
		"date":       cmd.Date,
		"start_time": cmd.StartTime,
		"end_time":   cmd.EndTime,
		"purpose":    cmd.Purpose,
	}
	if cmd.Attendees > 0 {
		args["attendees"] = strconv.Itoa(cmd.Attendees)
	}
	return s.runner.Run(ctx, bookRoom, args)
}
