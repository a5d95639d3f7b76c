package query

import (
	"context"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

var (
	getAllCourses = list("get_all_courses",
		"List every course.",
		"courses", "courses_length")

	getCoursesByCategory = list("get_courses_by_category",
		"List the courses of one category.",
		"courses", "category_courses_length",
		operation.Param{Name: "category_id", Query: "category", Label: "Category ID"})
)

// AllCourses lists every course.
func (s *Service) AllCourses(ctx context.Context) result.Envelope {
	return s.run(ctx, getAllCourses, nil)
}

// CoursesByCategory lists the courses of a category.
func (s *Service) CoursesByCategory(ctx context.Context, categoryID string) result.Envelope {
	return s.run(ctx, getCoursesByCategory, operation.Args{"category_id": categoryID})
}
