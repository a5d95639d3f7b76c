package query

import (
	"context"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

var (
	getAllGrades = list("get_all_grades",
		"List every grade.",
		"grades", "grades_length")

	getLessonGrades = list("get_lesson_grades",
		"List the grades recorded for one lesson.",
		"grades", "lesson_grades_length",
		operation.Param{Name: "lesson_id", Query: "lesson", Label: "Lesson ID"})

	getStudentGrades = list("get_student_grades",
		"List the grades of one student.",
		"grades", "student_grades_length",
		operation.Param{Name: "student_id", Query: "user", Label: "Student ID"})
)

// AllGrades lists every grade.
func (s *Service) AllGrades(ctx context.Context) result.Envelope {
	return s.run(ctx, getAllGrades, nil)
}

// LessonGrades lists the grades of a lesson.
func (s *Service) LessonGrades(ctx context.Context, lessonID string) result.Envelope {
	return s.run(ctx, getLessonGrades, operation.Args{"lesson_id": lessonID})
}

// StudentGrades lists the grades of a student.
func (s *Service) StudentGrades(ctx context.Context, studentID string) result.Envelope {
	return s.run(ctx, getStudentGrades, operation.Args{"student_id": studentID})
}
