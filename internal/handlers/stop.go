package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"collectopdf/internal/fetch"
	"collectopdf/internal/sheet"
	u "collectopdf/internal/utils"
	"collectopdf/internal/wfs"
)

// StopResolver looks up a stop record by code.
type StopResolver interface {
	ResolveStop(ctx context.Context, code string) (wfs.StopAttributes, error)
}

// ImageFetcher downloads an image on a best-effort basis.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, bool)
}

// SheetService bundles configuration and dependencies for stop sheet
// generation.
type SheetService struct {
	Config   *u.Config
	Resolver StopResolver
	Images   ImageFetcher
}

// NewSheetService creates a SheetService wired to the real WFS and media
// backends.
func NewSheetService(cfg u.Config) *SheetService {
	return &SheetService{
		Config:   &cfg,
		Resolver: wfs.NewClient(cfg.WFS.URL, cfg.WFS.TypeName, cfg.WFS.SRSName, time.Duration(cfg.WFS.TimeoutSecs)*time.Second),
		Images:   fetch.NewClient(time.Duration(cfg.Images.TimeoutSecs) * time.Second),
	}
}

// HandleStopSheet serves GET /v1/collecto/:stop: resolve the stop, fetch the
// map print and photo, compose the PDF and send it inline.
func (svc *SheetService) HandleStopSheet(c *fiber.Ctx) error {
	code := c.Params("stop")

	attrs, err := svc.Resolver.ResolveStop(c.Context(), code)
	if err != nil {
		if errors.Is(err, wfs.ErrStopNotFound) {
			return fiber.NewError(fiber.StatusNotFound,
				fmt.Sprintf("Collecto stop with code_stop='%s' not found in the dataset.", code))
		}
		u.Error("WFS lookup failed", "code", code, "error", err.Error())
		return fiber.NewError(fiber.StatusInternalServerError, "Could not query WFS: "+err.Error())
	}

	mapImage, photo := svc.fetchImages(c.Context(), attrs)

	pdfBuf, err := sheet.Compose(attrs, mapImage, photo)
	if err != nil {
		u.Error("Sheet composition failed", "code", code, "error", err.Error())
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to generate PDF: "+err.Error())
	}

	name := attrs.CodeStop
	if name == "" {
		name = code
	}
	filename := "collecto_" + name + ".pdf"

	requestID := c.Get("X-Request-ID")
	u.Info("Stop sheet generated", "code", code, "filename", filename, "request_id", requestID)

	c.Set("Content-Type", "application/pdf")
	c.Set("Content-Disposition", "inline; filename="+filename)
	return c.Send(pdfBuf)
}

// fetchImages downloads the map print and the stop photo concurrently. A
// missing gid or image_stop skips the corresponding fetch entirely; fetch
// failures leave the image absent and never abort the pipeline.
func (svc *SheetService) fetchImages(ctx context.Context, attrs wfs.StopAttributes) (mapImage, photo []byte) {
	mapURL := svc.mapPrintURL(attrs)
	photoURL := svc.photoURL(attrs)

	var wg sync.WaitGroup
	if mapURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mapImage, _ = svc.Images.Fetch(ctx, mapURL)
		}()
	}
	if photoURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			photo, _ = svc.Images.Fetch(ctx, photoURL)
		}()
	}
	wg.Wait()
	return mapImage, photo
}

// mapPrintURL expands the WMS GetPrint template with the record's gid, empty
// when the record carries none.
func (svc *SheetService) mapPrintURL(attrs wfs.StopAttributes) string {
	if attrs.GID == nil || svc.Config.Images.MapPrintURL == "" {
		return ""
	}
	return strings.ReplaceAll(svc.Config.Images.MapPrintURL, "{gid}", strconv.FormatInt(*attrs.GID, 10))
}

// photoURL appends image_stop to the media base path, empty when the record
// has no photo filename.
func (svc *SheetService) photoURL(attrs wfs.StopAttributes) string {
	if attrs.ImageStop == "" || svc.Config.Images.MediaBaseURL == "" {
		return ""
	}
	return strings.TrimSuffix(svc.Config.Images.MediaBaseURL, "/") + "/" + attrs.ImageStop
}
