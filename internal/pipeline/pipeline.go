// Package pipeline executes paid jobs: video acquisition, blob uploads and
// the final result event.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	"github.com/varchive/dvm/internal/blossom"
	"github.com/varchive/dvm/internal/dvm"
	"github.com/varchive/dvm/internal/ytdlp"
)

// Acquirer fetches the source video and its metadata.
type Acquirer interface {
	Download(ctx context.Context, url string) (*ytdlp.Result, error)
}

// Uploader stores one file on the blob server.
type Uploader interface {
	Upload(ctx context.Context, path, contentType string) (blossom.BlobDescriptor, error)
}

// Runner drives the execution phase of the job lifecycle. Execute returns
// immediately; the work happens on its own goroutine so the event router is
// never blocked behind a download.
type Runner struct {
	acquirer     Acquirer
	uploader     Uploader
	publisher    *dvm.Publisher
	uploadServer string
	logger       *slog.Logger
}

// NewRunner creates a job runner.
func NewRunner(acquirer Acquirer, uploader Uploader, publisher *dvm.Publisher, uploadServer string, logger *slog.Logger) *Runner {
	return &Runner{
		acquirer:     acquirer,
		uploader:     uploader,
		publisher:    publisher,
		uploadServer: uploadServer,
		logger:       logger,
	}
}

// Execute runs the job asynchronously.
func (r *Runner) Execute(job *dvm.Job) {
	go func() {
		ctx := context.Background()
		if err := r.run(ctx, job); err != nil {
			r.fail(ctx, job, err)
		}
	}()
}

func (r *Runner) run(ctx context.Context, job *dvm.Job) error {
	if err := job.Transition(dvm.StateExecuting); err != nil {
		return err
	}
	r.logger.Info("Starting job", slog.String("job_id", job.ID()), slog.String("url", job.URL))

	if err := r.publisher.Status(ctx, job, dvm.StatusProcessing, "Starting video download"); err != nil {
		r.logger.Warn("Failed to publish processing status", slog.String("error", err.Error()))
	}

	content, err := r.acquirer.Download(ctx, job.URL)
	if err != nil {
		return err
	}
	// The work directory goes away on every exit path.
	defer func() {
		if err := content.Cleanup(); err != nil {
			r.logger.Warn("Failed to remove work directory",
				slog.String("dir", content.Dir),
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := r.publisher.Status(ctx, job, dvm.StatusPartial, "Download completed. Uploading to "+r.uploadServer); err != nil {
		r.logger.Warn("Failed to publish partial status", slog.String("error", err.Error()))
	}

	var videoBlob, thumbBlob blossom.BlobDescriptor
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		videoBlob, err = r.uploader.Upload(groupCtx, content.VideoPath, "video/mp4")
		return err
	})
	if content.ThumbnailPath != "" {
		group.Go(func() error {
			var err error
			thumbBlob, err = r.uploader.Upload(groupCtx, content.ThumbnailPath, "image/webp")
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	template, err := buildVideoEvent(content.Info, videoBlob, thumbBlob)
	if err != nil {
		return err
	}

	if err := r.publisher.Result(ctx, job, template); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	if err := job.Transition(dvm.StateCompleted); err != nil {
		return err
	}
	r.logger.Info("Job completed", slog.String("job_id", job.ID()))
	return nil
}

// fail publishes an error status for the requester and marks the job failed.
// The requester paid; silence would look like theft.
func (r *Runner) fail(ctx context.Context, job *dvm.Job, cause error) {
	r.logger.Error("Job failed",
		slog.String("job_id", job.ID()),
		slog.String("error", cause.Error()),
	)

	if err := r.publisher.Status(ctx, job, dvm.StatusError, cause.Error()); err != nil {
		r.logger.Warn("Failed to publish error status", slog.String("error", err.Error()))
	}

	if job.State == dvm.StateExecuting {
		if err := job.Transition(dvm.StateFailed); err != nil {
			r.logger.Warn("Failed to mark job failed", slog.String("error", err.Error()))
		}
	}
}

// videoEvent is the kind 34235 template embedded in the result content. It
// is a template, not a signed event: the requester decides whether to
// publish it under their own key.
type videoEvent struct {
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      nostr.Tags `json:"tags"`
	Content   string     `json:"content"`
}

func buildVideoEvent(info ytdlp.VideoInfo, video, thumb blossom.BlobDescriptor) (string, error) {
	tags := nostr.Tags{
		{"d", fmt.Sprintf("%s-%s", info.Extractor, info.ID)},
		{"url", ensureSuffix(video.URL, ".mp4")},
		{"title", info.Title},
		{"summary", info.Description},
		{"published_at", strconv.FormatInt(info.Timestamp, 10)},
		{"client", dvm.ClientTag},
		{"m", "video/mp4"},
		{"size", strconv.FormatInt(video.Size, 10)},
		{"duration", strconv.FormatFloat(info.Duration, 'f', -1, 64)},
	}
	if thumb.URL != "" {
		thumbURL := ensureSuffix(thumb.URL, ".webp")
		tags = append(tags, nostr.Tag{"thumb", thumbURL}, nostr.Tag{"image", thumbURL})
	}
	tags = append(tags, nostr.Tag{"r", info.WebpageURL})
	for _, topic := range info.Tags {
		tags = append(tags, nostr.Tag{"t", topic})
	}

	template := videoEvent{
		CreatedAt: int64(nostr.Now()),
		Kind:      dvm.KindVideo,
		Tags:      tags,
		Content:   info.Title,
	}

	data, err := json.Marshal(template)
	if err != nil {
		return "", fmt.Errorf("failed to serialize video event: %w", err)
	}
	return string(data), nil
}

// ensureSuffix appends the extension when the blob server returned a bare
// hash URL, so clients can infer the media type from the path.
func ensureSuffix(url, suffix string) string {
	if strings.HasSuffix(url, suffix) {
		return url
	}
	return url + suffix
}
