package dvm

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// DefaultThumbnailCount applies when a request omits the thumbnailCount
// parameter.
const DefaultThumbnailCount = 3

// Intake validates work requests and constructs Job records.
type Intake struct {
	logger *slog.Logger
}

// NewIntake creates a request intake.
func NewIntake(logger *slog.Logger) *Intake {
	return &Intake{logger: logger}
}

// Accept validates the request's declared input and parameters and returns a
// Job in PAYMENT_REQUIRED state, or an error describing the rejection.
// Rejections are reported to the caller and logged only; no network-visible
// rejection event is emitted.
func (i *Intake) Accept(request *nostr.Event, wasEncrypted bool) (*Job, error) {
	input, ok := RequestInput(request)
	if !ok {
		return nil, ErrNoInput
	}

	rawCount := RequestParam(request, "thumbnailCount", strconv.Itoa(DefaultThumbnailCount))
	thumbnailCount, err := strconv.Atoi(rawCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidThumbnailCount, rawCount)
	}
	if thumbnailCount < 1 || thumbnailCount > 10 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThumbnailCount, thumbnailCount)
	}

	if input.Type != "url" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInputType, input.Type)
	}

	i.logger.Info("Job accepted",
		slog.String("job_id", request.ID),
		slog.String("url", input.Value),
		slog.Int("thumbnail_count", thumbnailCount),
		slog.Bool("encrypted", wasEncrypted),
	)

	return &Job{
		Request:        *request,
		URL:            input.Value,
		Encrypted:      wasEncrypted,
		ThumbnailCount: thumbnailCount,
		State:          StatePaymentRequired,
	}, nil
}
