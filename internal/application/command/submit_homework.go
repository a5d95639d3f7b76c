package command

import (
	"context"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

// SubmitHomeworkCommand submits a response to a homework on behalf of a user.
type SubmitHomeworkCommand struct {
	HomeworkID string
	UserID     string
	Content    string
	// Attachment is an optional URL to an uploaded file.
	Attachment string
}

var submitHomeworkResponse = func() operation.Spec {
	s := post("submit_homework_response",
		"Submit a response to a homework.",
		"homework-responses", "homework-responses/",
		operation.Param{Name: "homework_id", Label: "Homework ID"},
		operation.Param{Name: "user_id", Label: "User ID"},
		operation.Param{Name: "content", Label: "Submission content", Hidden: true},
	)
	s.Optional = []operation.Filter{{Name: "attachment"}}
	s.Body = func(a operation.Args) any {
		return optional(map[string]any{
			"homework": a.Get("homework_id"),
			"user":     a.Get("user_id"),
			"content":  a.Get("content"),
		}, a, "attachment")
	}
	return s
}()

// SubmitHomework posts a homework response.
func (s *Service) SubmitHomework(ctx context.Context, cmd SubmitHomeworkCommand) result.Envelope {
	return s.runner.Run(ctx, submitHomeworkResponse, operation.Args{
		"homework_id": cmd.HomeworkID,
		"user_id":     cmd.UserID,
		"content":     cmd.Content,
		"attachment":  cmd.Attachment,
	})
}
