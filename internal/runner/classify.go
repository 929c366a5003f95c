package runner

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
)

// ClassifyTransportError maps whatever error a Channel.SendCommand call
// produced onto the scheduler's result-cause vocabulary. A Channel may be
// backed by any transport; rather than have every implementation invent its
// own unreachable/internal split, each is expected to surface transport
// failures as a gRPC status (using codes.Unavailable/DeadlineExceeded for
// connectivity failures), which this function then collapses to the
// handful of causes the spec defines.
func ClassifyTransportError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		return domain.CauseRunnerUnreachable
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Aborted:
			return domain.CauseRunnerUnreachable
		default:
			return domain.CauseInternalError
		}
	}

	return domain.CauseInternalError
}
