package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/httprunner/ActivityUploader/internal/errs"
	"github.com/httprunner/ActivityUploader/pkg/uploader"
)

const maxMultipartMemory = 32 << 20

// createSubmission runs a whole upload in process: the images arrive as
// multipart parts named "images" and the form fields mirror uploader.Form.
func (s *Server) createSubmission(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request Entity Too Large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart body"})
		return
	}
	form := c.Request.MultipartForm

	images, err := readImages(form.File["images"])
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": errs.Message(err)})
		return
	}

	session := uploader.NewSession(
		uploader.NewDirectBackend(s.opts.Config, s.opts.Feishu, s.opts.Publisher),
		uploader.Options{Compress: parseBool(c.PostForm("compress"), true), Recorder: s.opts.Recorder},
	)
	if err := session.AddImages(images...); err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": errs.Message(err), "state": session.State()})
		return
	}

	result, err := session.Submit(c.Request.Context(), submissionForm(c))
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{
			"error":         errs.Message(err),
			"state":         session.State(),
			"submission_id": result.SubmissionID,
			"urls":          session.UploadedURLs(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"submission_id": result.SubmissionID,
		"state":         result.State,
		"urls":          result.URLs,
		"record_id":     result.RecordID,
		"action":        result.Action,
	})
}

func submissionForm(c *gin.Context) uploader.Form {
	form := uploader.Form{
		ActivityName: c.PostForm("activity_name"),
		City:         c.PostForm("city"),
		Date:         c.PostForm("date"),
		WorkshopType: c.PostForm("workshop_type"),
		Highlights:   c.PostForm("highlights"),
	}
	for i := range form.Quotes {
		suffix := ""
		if i > 0 {
			suffix = fmt.Sprintf("_%d", i+1)
		}
		form.Quotes[i] = uploader.Quote{
			Text:   c.PostForm("quote_text" + suffix),
			Author: c.PostForm("quote_author" + suffix),
		}
	}
	return form
}

func readImages(headers []*multipart.FileHeader) ([]uploader.Image, error) {
	images := make([]uploader.Image, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, errs.Wrap(errs.Validation, err, "open uploaded file "+fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errs.Wrap(errs.Validation, err, "read uploaded file "+fh.Filename)
		}
		contentType := fh.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}
		images = append(images, uploader.Image{Name: fh.Filename, ContentType: contentType, Data: data})
	}
	return images, nil
}

func parseBool(raw string, fallback bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if raw == "on" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
