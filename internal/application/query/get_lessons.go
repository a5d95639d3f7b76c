package query

import (
	"context"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

var (
	getAllLessons = list("get_all_lessons",
		"List every lesson.",
		"lessons", "lessons_length")

	getLessonsByCourse = list("get_lessons_by_course",
		"List the lessons of one course.",
		"lessons", "course_lessons_length",
		operation.Param{Name: "course_id", Query: "course", Label: "Course ID"})
)

// AllLessons lists every lesson.
func (s *Service) AllLessons(ctx context.Context) result.Envelope {
	return s.run(ctx, getAllLessons, nil)
}

// LessonsByCourse lists the lessons of a course.
func (s *Service) LessonsByCourse(ctx context.Context, courseID string) result.Envelope {
	return s.run(ctx, getLessonsByCourse, operation.Args{"course_id": courseID})
}
