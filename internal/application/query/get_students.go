package query

import (
	"context"
	"net/http"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

var (
	getAllStudents = list("get_all_students",
		"List every student.",
		"students", "students_length")

	getStudentByName = operation.Spec{
		Name:        "get_student_by_name",
		Description: "Search students by name.",
		Endpoint:    "students",
		Method:      http.MethodGet,
		Path:        "students/",
		Required:    []operation.Param{{Name: "name", Query: "search", Label: "Student name"}},
		Optional:    []operation.Filter{{Name: "page", Query: "page"}},
		Shape:       operation.ShapeList,
		CountKey:    "students_length",
	}

	// The detail endpoint returns the student object itself, not a results list.
	getStudentByID = operation.Spec{
		Name:        "get_student_by_id",
		Description: "Fetch one student by id.",
		Endpoint:    "students",
		Method:      http.MethodGet,
		Path:        "students/{student_id}/",
		Required:    []operation.Param{{Name: "student_id", Label: "Student ID"}},
		Shape:       operation.ShapeEntity,
	}
)

// AllStudents lists every student.
func (s *Service) AllStudents(ctx context.Context) result.Envelope {
	return s.run(ctx, getAllStudents, nil)
}

// StudentByID fetches a student.
func (s *Service) StudentByID(ctx context.Context, studentID string) result.Envelope {
	return s.run(ctx, getStudentByID, operation.Args{"student_id": studentID})
}

// StudentsByName searches students by name.
func (s *Service) StudentsByName(ctx context.Context, name string) result.Envelope {
	return s.run(ctx, getStudentByName, operation.Args{"name": name})
}
