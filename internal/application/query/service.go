// Package query contains read operations (CQRS - Queries).
// Each query is a GET against one LMS list or detail endpoint.
package query

import (
	"context"
	"net/http"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

// Runner executes an operation spec.
type Runner interface {
	Run(ctx context.Context, spec operation.Spec, args operation.Args) result.Envelope
}

// Service exposes the read operations as typed methods.
type Service struct {
	runner Runner
}

// NewService creates a query Service.
func NewService(runner Runner) *Service {
	return &Service{runner: runner}
}

// Specs returns every read operation, ordered by name.
func Specs() []operation.Spec {
	specs := []operation.Spec{
		getAllCourses, getCoursesByCategory,
		getAllLessons, getLessonsByCourse,
		getAllGrades, getLessonGrades, getStudentGrades,
		getAllHomeworks, getHomeworksByLesson,
		getAllHomeworkResponses, getHomeworkResponsesByHomework, getHomeworkResponsesByUser,
		getAllStudents, getStudentByID, getStudentByName,
	}
	operation.SortSpecs(specs)
	return specs
}

// dateFilters are accepted by every list query.
var dateFilters = []operation.Filter{
	{Name: "date_from", Query: "date_from"},
	{Name: "date_to", Query: "date_to"},
	{Name: "page", Query: "page"},
}

func list(name, description, endpoint, countKey string, required ...operation.Param) operation.Spec {
	return operation.Spec{
		Name:        name,
		Description: description,
		Endpoint:    endpoint,
		Method:      http.MethodGet,
		Path:        endpoint + "/",
		Required:    required,
		Optional:    dateFilters,
		Shape:       operation.ShapeList,
		CountKey:    countKey,
	}
}

func (s *Service) run(ctx context.Context, spec operation.Spec, args operation.Args) result.Envelope {
	return s.runner.Run(ctx, spec, args)
}
