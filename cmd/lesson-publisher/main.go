package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/tutorhive/lesson-publisher/internal/auth"
	"github.com/tutorhive/lesson-publisher/internal/config"
	"github.com/tutorhive/lesson-publisher/internal/pipeline"
	"github.com/tutorhive/lesson-publisher/internal/repository"
	"github.com/tutorhive/lesson-publisher/internal/services/lesson"
	"github.com/tutorhive/lesson-publisher/internal/stream"
	"github.com/tutorhive/lesson-publisher/internal/types"
	"github.com/tutorhive/lesson-publisher/internal/upload"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file")
		courseID    = flag.String("course", "", "Course the lesson belongs to")
		tutorID     = flag.String("tutor", "", "Tutor publishing the lesson")
		lessonID    = flag.String("lesson", "", "Existing lesson id (edit instead of create)")
		title       = flag.String("title", "", "Lesson title")
		description = flag.String("description", "", "Lesson description")
		duration    = flag.Int("duration", 0, "Lesson duration in minutes")
		videoPath   = flag.String("video", "", "Path to the lesson video")
		thumbPath   = flag.String("thumbnail", "", "Path to the thumbnail image")
		pdfPath     = flag.String("pdf", "", "Path to the PDF notes")
		priorVideo  = flag.String("prior-video", "", "Previously committed video URL (edit only)")
		priorThumb  = flag.String("prior-thumbnail", "", "Previously committed thumbnail URL (edit only)")
		priorPDF    = flag.String("prior-pdf", "", "Previously committed PDF URL (edit only)")
	)
	flag.Parse()

	if *configPath != "" {
		os.Setenv("CONFIG_PATH", *configPath)
	}
	cfg := config.MustLoad()

	tokens := auth.NewTokenSource(cfg.API.SessionToken)

	var uploader upload.Uploader
	switch cfg.Storage.Backend {
	case "s3":
		s3, err := upload.NewS3Uploader(cfg.Storage.S3)
		if err != nil {
			log.Fatalf("failed to initialize S3 uploader: %s", err)
		}
		uploader = s3
	default:
		uploader = upload.NewHostedUploader(cfg.Upload.BaseURL, cfg.Upload.Preset, cfg.Upload.Namespace)
	}

	var repo repository.LessonRepository = repository.NewMemoryRepository()
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Fatalf("failed to connect to Redis: %s", err)
		}
		repo = repository.NewCachedRepository(repo, redisClient)
		slog.Info("Connected to Redis cache", slog.String("address", cfg.Redis.Address))
	}

	commits := lesson.NewService(cfg.API.BaseURL, tokens.Authorization)
	publisher := pipeline.New(uploader, commits, repo, cfg.Upload.TaskTimeout)

	var notifications *stream.Client
	if cfg.Stream.URL != "" {
		var transport stream.Transport
		if cfg.Stream.Transport == "websocket" {
			transport = stream.NewWebSocketTransport(cfg.Stream.URL, stream.AuthFunc(tokens.Authorization))
		} else {
			transport = stream.NewSSETransport(cfg.Stream.URL, stream.AuthFunc(tokens.Authorization))
		}
		notifications = stream.NewClient(transport, cfg.Stream.BackoffBase, cfg.Stream.BackoffMax, func(unread int) {
			slog.Info("notifications updated", slog.Int("unread", unread))
		})
		notifications.Start()
		defer notifications.Stop()
	}

	draft := types.NewLessonDraft(*courseID, *tutorID, *title)
	draft.LessonID = *lessonID
	draft.Description = *description
	draft.DurationMinutes = *duration
	draft.PriorURLs[types.KindVideo] = *priorVideo
	draft.PriorURLs[types.KindThumbnail] = *priorThumb
	draft.PriorURLs[types.KindPDFNotes] = *priorPDF

	attach(draft, types.KindVideo, *videoPath)
	attach(draft, types.KindThumbnail, *thumbPath)
	attach(draft, types.KindPDFNotes, *pdfPath)

	updates, err := publisher.Submit(context.Background(), draft)
	if err != nil {
		log.Fatalf("failed to submit draft: %s", err)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		slog.Info("Cancelling publish...")
		publisher.Cancel()
	}()

	for update := range updates {
		switch update.State {
		case types.StateUploading:
			fmt.Printf("\ruploading %3.0f%%", update.Progress*100)
		case types.StateCommitted:
			fmt.Println()
			slog.Info("Lesson committed", slog.String("lesson_id", update.Lesson.ID))
		case types.StateFailed:
			fmt.Println()
			slog.Error("Publish failed", slog.String("error", update.Err.Error()))
			os.Exit(1)
		case types.StateCancelled:
			fmt.Println()
			slog.Info("Publish cancelled")
			os.Exit(1)
		}
	}
}

// attach reads the file at path into the draft's slot; a missing path leaves
// the slot empty so an edit carries the previous URL forward.
func attach(draft *types.LessonDraft, kind types.AssetKind, path string) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read %s asset: %s", kind, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	draft.Slots[kind].Attach(&types.Blob{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Data:        data,
	})
}
