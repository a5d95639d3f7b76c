// Package command contains write operations (CQRS - Commands).
// Every command is a POST carrying an Idempotency-Key that stays constant
// across transport retries, so the LMS can drop duplicates of a write whose
// first attempt succeeded but whose response was lost.
package command

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

// Service exposes the write operations as typed methods.
type Service struct {
	runner Runner
}

// NewService creates a command Service.
func NewService(runner Runner) *Service {
	return &Service{runner: runner}
}

// Specs returns every write operation, ordered by name.
func Specs() []operation.Spec {
	specs := []operation.Spec{
		submitHomeworkResponse,
		reserveResource,
		bookRoom,
		cancelBooking,
	}
	operation.SortSpecs(specs)
	return specs
}

func post(name, description, endpoint, path string, required ...operation.Param) operation.Spec {
	return operation.Spec{
		Name:        name,
		Description: description,
		Endpoint:    endpoint,
		Method:      http.MethodPost,
		Path:        path,
		Required:    required,
		Shape:       operation.ShapeEntity,
		Mutating:    true,
	}
}

// optional copies non-blank optional args into body.
func optional(body map[string]any, args operation.Args, keys ...string) map[string]any {
	for _, k := range keys {
		if v := args.Get(k); v != "" {
			body[k] = v
		}
	}
	return body
}
