package command

import (
	"context"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
	"github.com/mahan-lms/lms-assistant/pkg/timeutil"
)

// ReserveResourceCommand reserves a library or lab resource.
type ReserveResourceCommand struct {
	StudentID  string
	ResourceID string
	DateFrom   string // YYYY-MM-DD
	DateTo     string // YYYY-MM-DD, optional
	Purpose    string
}

var reserveResource = func() operation.Spec {
	s := post("reserve_resource",
		"Reserve a library or lab resource for a date range.",
		"reservations", "reservations/",
		operation.Param{Name: "student_id", Label: "Student ID"},
		operation.Param{Name: "resource_id", Label: "Resource ID"},
		operation.Param{Name: "date_from", Label: "Reservation start date"},
	)
	s.Optional = []operation.Filter{{Name: "date_to"}, {Name: "purpose"}}
	s.Check = func(a operation.Args) error {
		return timeutil.ValidateRange(a.Get("date_from"), a.Get("date_to"))
	}
	s.Body = func(a operation.Args) any {
		return optional(map[string]any{
			"student":   a.Get("student_id"),
			"resource":  a.Get("resource_id"),
			"date_from": a.Get("date_from"),
		}, a, "date_to", "purpose")
	}
	return s
}()

// ReserveResource reserves a resource.
func (s *Service) ReserveResource(ctx context.Context, cmd ReserveResourceCommand) result.Envelope {
	return s.runner.Run(ctx, reserveResource, operation.Args{
		"student_id":  cmd.StudentID,
		"resource_id": cmd.ResourceID,
		"date_from":   cmd.DateFrom,
		"date_to":     cmd.DateTo,
		"purpose":     cmd.Purpose,
	})
}
