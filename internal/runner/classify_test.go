package runner

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
)

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bare unreachable", ErrUnreachable, domain.CauseRunnerUnreachable},
		{"deadline exceeded bare", context.DeadlineExceeded, domain.CauseRunnerUnreachable},
		{"grpc unavailable", status.Error(codes.Unavailable, "connection refused"), domain.CauseRunnerUnreachable},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "timeout"), domain.CauseRunnerUnreachable},
		{"grpc internal", status.Error(codes.Internal, "boom"), domain.CauseInternalError},
		{"bare unwrapped error", context.Canceled, domain.CauseInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyTransportError(tt.err)
			if got != tt.want {
				t.Errorf("ClassifyTransportError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
