package server

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/WIZARDISHUNGRY/samask/internal/logger"
	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/WIZARDISHUNGRY/samask/pkg/fetch"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// formOverhead is room for the x, y and seed fields and multipart framing.
const formOverhead = 64 << 10

func (s *Server) generateMask(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.Entry(ctx)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+formOverhead)
	if err := c.Request.ParseMultipartForm(s.maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, "Image too large\n")
			return
		}
		c.String(http.StatusBadRequest, "Malformed form\n")
		return
	}

	x, errX := strconv.ParseFloat(c.PostForm("x"), 32)
	y, errY := strconv.ParseFloat(c.PostForm("y"), 32)
	if errX != nil || errY != nil {
		c.String(http.StatusBadRequest, "Missing or invalid x or y parameter\n")
		return
	}

	params := s.params
	if v := c.PostForm("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			c.String(http.StatusBadRequest, "Invalid seed parameter\n")
			return
		}
		params.Seed = int32(seed)
	}

	path, cleanup, err := s.scratch("")
	if err != nil {
		log.WithError(err).Error("scratch file")
		c.String(http.StatusInternalServerError, "Internal error\n")
		return
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.WithError(err).Warn("scratch cleanup")
		}
	}()

	if fh, err := c.FormFile("image"); err == nil {
		if fh.Size > s.maxUpload {
			c.String(http.StatusRequestEntityTooLarge, "Image too large\n")
			return
		}
		if err := c.SaveUploadedFile(fh, path); err != nil {
			log.WithError(err).Error("SaveUploadedFile")
			c.String(http.StatusInternalServerError, "Internal error\n")
			return
		}
	} else if u := c.PostForm("image_url"); u != "" {
		if err := fetch.ToFile(ctx, s.client, u, path, s.maxUpload); err != nil {
			log.WithError(err).Warn("fetch image")
			c.String(http.StatusBadRequest, "Failed to fetch image\n")
			return
		}
	} else {
		c.String(http.StatusBadRequest, "Missing image\n")
		return
	}

	mk, err := s.masker.GenerateMask(ctx, path, mask.Point{X: float32(x), Y: float32(y)}, params)
	switch {
	case err == nil:
	case errors.Is(err, mask.ErrImageNotFound):
		c.String(http.StatusBadRequest, "Failed to load image\n")
		return
	case errors.Is(err, mask.ErrEmptyResult):
		c.String(http.StatusInternalServerError, "Failed to generate mask\n")
		return
	case errors.Is(err, mask.ErrMalformedOutput):
		log.WithError(err).Error("generate mask")
		c.String(http.StatusBadGateway, "Mask library returned a malformed mask\n")
		return
	default:
		log.WithError(err).Error("generate mask")
		c.String(http.StatusInternalServerError, "Failed to generate mask\n")
		return
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, mk.Image(), imaging.PNG); err != nil {
		log.WithError(err).Error("imaging.Encode")
		c.String(http.StatusInternalServerError, "Internal error\n")
		return
	}
	c.Header("X-Mask-Rows", strconv.Itoa(mk.Rows))
	c.Header("X-Mask-Width", strconv.Itoa(mk.Width))
	c.Header("X-Mask-Coverage", strconv.FormatFloat(mk.Coverage(), 'f', 4, 64))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) handleStop(c *gin.Context) {
	c.String(http.StatusOK, "Stopping server\n")
	s.stopOnce.Do(s.stop)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state": s.state(),
		"cache": s.cacheName,
	})
}
