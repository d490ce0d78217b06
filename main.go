package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	apperrors "github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/pipeline"
	"github.com/nijaru/transcribe-pipeline/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobFlags := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{
				Name:  "language",
				Usage: "language code, or auto to detect",
				Value: models.DefaultLanguage,
			},
			&cli.StringFlag{
				Name:  "engine",
				Usage: "speech engine tag (defaults to SPEECH_ENGINE)",
			},
			&cli.BoolFlag{
				Name:  "enrich",
				Usage: "format the transcript as dialogue and generate an image",
			},
		}
	}

	app := &cli.Command{
		Name:  "transcribe-pipeline",
		Usage: "background transcription pipeline for uploaded audio and YouTube media",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment file path",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "worker",
				Usage: "run the worker pool until interrupted",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "number of workers (defaults to WORKER_COUNT)",
					},
				},
				Action: workerAction,
			},
			{
				Name:  "submit",
				Usage: "submit a transcription job",
				Commands: []*cli.Command{
					{
						Name:  "youtube",
						Usage: "transcribe a YouTube video",
						Flags: append([]cli.Flag{
							&cli.StringFlag{
								Name:     "url",
								Usage:    "video URL",
								Required: true,
							},
						}, jobFlags()...),
						Action: submitYouTubeAction,
					},
					{
						Name:  "upload",
						Usage: "transcribe a local audio file, or one already in storage",
						Flags: append([]cli.Flag{
							&cli.StringFlag{
								Name:  "file",
								Usage: "local audio file to upload",
							},
							&cli.StringFlag{
								Name:  "key",
								Usage: "storage key of an uploaded audio file",
							},
						}, jobFlags()...),
						Action: submitUploadAction,
					},
				},
			},
			{
				Name:  "crawl",
				Usage: "create jobs for the videos of a channel or playlist",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "channel",
						Usage:    "channel or playlist URL",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "max-videos",
						Usage: "maximum number of videos to list",
						Value: models.DefaultMaxVideos,
					},
					&cli.StringFlag{
						Name:  "video-type",
						Usage: "shorts, videos or all",
						Value: string(models.VideoTypeShorts),
					},
					&cli.StringFlag{
						Name:  "language",
						Usage: "language code for the created jobs",
						Value: models.DefaultLanguage,
					},
					&cli.StringFlag{
						Name:  "engine",
						Usage: "speech engine tag for the created jobs",
					},
				},
				Action: crawlAction,
			},
			{
				Name:  "status",
				Usage: "show a job or crawl",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "job or crawl id",
						Required: true,
					},
				},
				Action: statusAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func workerAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApplication(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	if s3Store, ok := a.objects.(*storage.S3Store); ok {
		if err := s3Store.EnsureBucket(ctx); err != nil {
			return err
		}
	}

	workers := a.cfg.Worker.Count
	if n := cmd.Int("workers"); n > 0 {
		workers = n
	}

	pool := pipeline.NewPool(a.dispatcher, a.newController(), workers, a.log)
	monitor := pipeline.NewMonitor(a.store, a.cfg.Worker.StaleJobTimeout, a.cfg.Worker.MonitorInterval, a.log)

	a.log.WithFields(logrus.Fields{
		"workers": workers,
		"queue":   a.cfg.Queue.Backend,
		"engines": a.engines.Tags(),
	}).Info("Starting worker pool")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	pool.Run(ctx)
	wg.Wait()

	a.log.Info("Worker pool stopped")
	return nil
}

func jobOptions(a *application, cmd *cli.Command) pipeline.JobOptions {
	engine := cmd.String("engine")
	if engine == "" {
		engine = a.cfg.Speech.DefaultEngine
	}
	return pipeline.JobOptions{
		Language: cmd.String("language"),
		Engine:   engine,
		Enrich:   cmd.Bool("enrich"),
	}
}

func submitYouTubeAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApplication(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.submitter.SubmitYouTube(ctx, cmd.String("url"), jobOptions(a, cmd))
	if err != nil {
		return err
	}
	return printJSON(job)
}

func submitUploadAction(ctx context.Context, cmd *cli.Command) error {
	file, key := cmd.String("file"), cmd.String("key")
	if (file == "") == (key == "") {
		return fmt.Errorf("exactly one of --file or --key is required")
	}

	a, err := newApplication(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	var job *models.Job
	if file != "" {
		job, err = a.submitter.UploadAudio(ctx, file, jobOptions(a, cmd))
	} else {
		job, err = a.submitter.SubmitUpload(ctx, key, jobOptions(a, cmd))
	}
	if err != nil {
		return err
	}
	return printJSON(job)
}

func crawlAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApplication(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	engine := cmd.String("engine")
	if engine == "" {
		engine = a.cfg.Speech.DefaultEngine
	}

	crawl, err := a.submitter.SubmitCrawl(ctx, &models.Crawl{
		ChannelURL: cmd.String("channel"),
		MaxVideos:  cmd.Int("max-videos"),
		VideoType:  models.VideoType(cmd.String("video-type")),
		Language:   cmd.String("language"),
		Engine:     engine,
	})
	if err != nil {
		return err
	}
	return printJSON(crawl)
}

type jobStatus struct {
	*models.Job
	Detail *models.Detail  `json:"detail,omitempty"`
	Images []*models.Image `json:"images,omitempty"`
}

type crawlStatus struct {
	*models.Crawl
	Jobs []*models.Job `json:"jobs"`
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApplication(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	id := cmd.String("id")

	job, err := a.store.GetJob(ctx, id)
	if err == nil {
		out := jobStatus{Job: job}
		if job.IsDone() {
			if out.Detail, err = a.store.GetDetail(ctx, id); err != nil && !apperrors.IsNotFound(err) {
				return err
			}
			if out.Images, err = a.store.ListImages(ctx, id); err != nil {
				return err
			}
		}
		return printJSON(out)
	}
	if !apperrors.IsNotFound(err) {
		return err
	}

	crawl, err := a.store.GetCrawl(ctx, id)
	if err != nil {
		return err
	}
	jobs, err := a.store.ListJobsByCrawl(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(crawlStatus{Crawl: crawl, Jobs: jobs})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
