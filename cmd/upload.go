package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/httprunner/ActivityUploader/internal/assets"
	"github.com/httprunner/ActivityUploader/internal/config"
	"github.com/httprunner/ActivityUploader/internal/feishusdk"
	"github.com/httprunner/ActivityUploader/internal/storage"
	"github.com/httprunner/ActivityUploader/pkg/uploader"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var (
		flagActivity     string
		flagCity         string
		flagDate         string
		flagWorkshopType string
		flagHighlights   string
		flagQuotes       []string
		flagAuthors      []string
		flagCompress     bool
		flagServer       string
	)

	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload up to 3 images and upsert the activity record",
		Long:  "Publishes the images in order, then creates or updates the Bitable row named after --activity. With --server the steps go through a running activityuploader serve instance.",
		Args:  cobra.RangeArgs(1, uploader.MaxImages),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			images, err := loadImages(args)
			if err != nil {
				return err
			}

			var backend uploader.Backend
			if server := strings.TrimSpace(flagServer); server != "" {
				backend = uploader.NewRemoteBackend(server)
			} else {
				cfg := config.Load()
				publisher, err := assets.NewPublisherFromEnv(cfg.GitHub)
				if err != nil {
					return err
				}
				backend = uploader.NewDirectBackend(cfg, feishusdk.NewClientFromEnv(), publisher)
			}

			opts := uploader.Options{
				Compress: flagCompress,
				Progress: func(p uploader.Progress) {
					log.Info().Str("state", string(p.State)).Int("index", p.Index).Int("total", p.Total).Msg(p.Message)
				},
			}
			journal, err := storage.OpenFromEnv()
			if err != nil {
				return err
			}
			defer journal.Close()
			if journal != nil {
				opts.Recorder = journal
			}

			session := uploader.NewSession(backend, opts)
			if err := session.AddImages(images...); err != nil {
				return err
			}
			form := uploader.Form{
				ActivityName: flagActivity,
				City:         flagCity,
				Date:         flagDate,
				WorkshopType: flagWorkshopType,
				Highlights:   strings.ReplaceAll(flagHighlights, `\n`, "\n"),
			}
			for i := range form.Quotes {
				if i < len(flagQuotes) {
					form.Quotes[i].Text = flagQuotes[i]
				}
				if i < len(flagAuthors) {
					form.Quotes[i].Author = flagAuthors[i]
				}
			}

			result, err := session.Submit(ctx, form)
			for _, url := range session.UploadedURLs() {
				fmt.Fprintln(cmd.OutOrStdout(), url)
			}
			if err != nil {
				return err
			}
			log.Info().
				Str("submission", result.SubmissionID).
				Str("action", string(result.Action)).
				Str("record_id", result.RecordID).
				Msg("submission finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&flagActivity, "activity", "", "Activity name, also the Bitable lookup key (required)")
	cmd.Flags().StringVar(&flagCity, "city", "", "City")
	cmd.Flags().StringVar(&flagDate, "date", "", "Activity date")
	cmd.Flags().StringVar(&flagWorkshopType, "workshop-type", "", "Workshop type")
	cmd.Flags().StringVar(&flagHighlights, "highlights", "", `Highlights, one per line (a literal \n also separates lines)`)
	cmd.Flags().StringArrayVar(&flagQuotes, "quote", nil, "Quote text, repeat up to 3 times")
	cmd.Flags().StringArrayVar(&flagAuthors, "quote-author", nil, "Quote author, matched to --quote by position")
	cmd.Flags().BoolVar(&flagCompress, "compress", true, "Re-encode images as JPEG bounded to 1600px before upload")
	cmd.Flags().StringVar(&flagServer, "server", "", "Base URL of a running server (e.g. http://localhost:3000); empty runs in process")
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}

func loadImages(paths []string) ([]uploader.Image, error) {
	images := make([]uploader.Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s failed: %w", p, err)
		}
		contentType := http.DetectContentType(data)
		if !strings.HasPrefix(contentType, "image/") {
			log.Warn().Str("file", p).Str("content_type", contentType).Msg("not an image, skipped")
		}
		images = append(images, uploader.Image{Name: filepath.Base(p), ContentType: contentType, Data: data})
	}
	return images, nil
}
