package query

import (
	"context"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

var (
	getAllHomeworks = list("get_all_homeworks",
		"List every homework.",
		"homeworks", "homeworks_length")

	getHomeworksByLesson = list("get_homeworks_by_lesson",
		"List the homeworks of one lesson.",
		"homeworks", "lesson_homeworks_length",
		operation.Param{Name: "lesson_id", Query: "lesson", Label: "Lesson ID"})

	getAllHomeworkResponses = list("get_all_homework_responses",
		"List every homework submission.",
		"homework-responses", "homework_responses_length")

	getHomeworkResponsesByHomework = list("get_homework_responses_by_homework",
		"List the submissions to one homework.",
		"homework-responses", "homework_responses_length",
		operation.Param{Name: "homework_id", Query: "homework", Label: "Homework ID"})

	getHomeworkResponsesByUser = list("get_homework_responses_by_user",
		"List the homework submissions of one user.",
		"homework-responses", "user_homework_responses_length",
		operation.Param{Name: "user_id", Query: "user", Label: "User ID"})
)

// AllHomeworks lists every homework.
func (s *Service) AllHomeworks(ctx context.Context) result.Envelope {
	return s.run(ctx, getAllHomeworks, nil)
}

// HomeworksByLesson lists the homeworks of a lesson.
func (s *Service) HomeworksByLesson(ctx context.Context, lessonID string) result.Envelope {
	return s.run(ctx, getHomeworksByLesson, operation.Args{"lesson_id": lessonID})
}

// AllHomeworkResponses lists every homework submission.
func (s *Service) AllHomeworkResponses(ctx context.Context) result.Envelope {
	return s.run(ctx, getAllHomeworkResponses, nil)
}

// HomeworkResponsesByHomework lists the submissions to a homework.
func (s *Service) HomeworkResponsesByHomework(ctx context.Context, homeworkID string) result.Envelope {
	return s.run(ctx, getHomeworkResponsesByHomework, operation.Args{"homework_id": homeworkID})
}

// HomeworkResponsesByUser lists the submissions of a user.
func (s *Service) HomeworkResponsesByUser(ctx context.Context, userID string) result.Envelope {
	return s.run(ctx, getHomeworkResponsesByUser, operation.Args{"user_id": userID})
}
