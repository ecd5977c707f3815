package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"pdf2image/internal/convert"
	u "pdf2image/internal/utils"
)

// Form field names of the conversion endpoint.
const (
	FieldDocument = "pdf_file"
	FieldPage     = "page_number"
	FieldFormat   = "output_format"
	FieldDPI      = "dpi"
)

// ConvertService serves the conversion endpoint.
type ConvertService struct {
	Config    *u.Config
	Redis     *redis.Client
	Converter *convert.Converter
}

// NewConvertService creates a ConvertService. rdb may be nil.
func NewConvertService(cfg u.Config, conv *convert.Converter, rdb *redis.Client) *ConvertService {
	return &ConvertService{
		Config:    &cfg,
		Redis:     rdb,
		Converter: conv,
	}
}

// HandleConversion renders the uploaded document. One page is returned as
// the image itself, several as a list of paths. Every conversion failure is
// answered with 500 and {"error": message}.
func (svc *ConvertService) HandleConversion(c *fiber.Ctx) error {
	requestID := c.GetRespHeader(fiber.HeaderXRequestID)

	req, err := svc.extractConvertRequest(c)
	if err != nil {
		var ce *convert.Error
		if errors.As(err, &ce) {
			return conversionFailed(c, err, requestID)
		}
		return err
	}

	cacheKey := computeImageCacheKey(req)
	if svc.cacheEnabled() {
		if cached, err := getCachedImage(c, svc.Redis, cacheKey); err == nil && cached != nil {
			res, err := svc.Converter.Reuse(c.UserContext(), req.Format, req.DPI, cached)
			if err != nil {
				return conversionFailed(c, err, requestID)
			}
			u.Info("Document served from cache", "id", res.ID, "request_id", requestID)
			c.Set(fiber.HeaderContentType, res.ContentType)
			return c.Send(cached)
		}
	}

	res, err := svc.Converter.Convert(c.UserContext(), *req)
	if err != nil {
		u.Debug("Failed request parameters", "page", req.Page, "format", req.Format, "dpi", req.DPI, "request_id", requestID)
		return conversionFailed(c, err, requestID)
	}

	u.Info("Document converted", "id", res.ID, "pages", len(res.Paths), "request_id", requestID)

	if !res.Single() {
		return c.JSON(fiber.Map{"images": res.Paths})
	}

	data, err := os.ReadFile(res.Paths[0])
	if err != nil {
		return conversionFailed(c, &convert.Error{Kind: convert.KindResource, Op: "read page", Err: err}, requestID)
	}

	if svc.cacheEnabled() {
		setCachedImage(c, svc.Redis, cacheKey, data, svc.Config.Cache.RenderCacheTTL)
	}

	c.Set(fiber.HeaderContentType, res.ContentType)
	return c.Send(data)
}

// conversionFailed logs the failure with its kind and answers with the
// uniform error body.
func conversionFailed(c *fiber.Ctx, err error, requestID string) error {
	u.Error("Conversion failed", "kind", convert.KindOf(err).String(), "error", err.Error(), "request_id", requestID)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

func (svc *ConvertService) cacheEnabled() bool {
	return svc.Redis != nil && svc.Config.Cache.RenderCacheEnabled
}

// extractConvertRequest reads the multipart form. Only the shape of the
// request is checked here; values are judged by the converter.
func (svc *ConvertService) extractConvertRequest(c *fiber.Ctx) (*convert.Request, error) {
	fh, err := c.FormFile(FieldDocument)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusUnprocessableEntity, "Missing upload: "+FieldDocument+" is required")
	}

	page := 0
	if v := c.FormValue(FieldPage); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusUnprocessableEntity, "Invalid "+FieldPage+": must be an integer")
		}
	}

	dpi := svc.Config.Convert.DefaultDPI
	if v := c.FormValue(FieldDPI); v != "" {
		dpi, err = strconv.Atoi(v)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusUnprocessableEntity, "Invalid "+FieldDPI+": must be an integer")
		}
	}

	format := c.FormValue(FieldFormat)
	if format == "" {
		format = svc.Config.Convert.DefaultFormat
	}

	f, err := fh.Open()
	if err != nil {
		return nil, &convert.Error{Kind: convert.KindResource, Op: "read upload", Err: err}
	}
	defer f.Close()

	doc, err := io.ReadAll(f)
	if err != nil {
		return nil, &convert.Error{Kind: convert.KindResource, Op: "read upload", Err: err}
	}

	return &convert.Request{
		Document: doc,
		Page:     page,
		Format:   format,
		DPI:      dpi,
	}, nil
}

// computeImageCacheKey creates a SHA256-based cache key from the request.
func computeImageCacheKey(req *convert.Request) string {
	h := sha256.New()
	h.Write(req.Document)
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(req.Page)))
	h.Write([]byte{0})
	h.Write([]byte(req.Format))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(req.DPI)))
	return "imgcache:" + hex.EncodeToString(h.Sum(nil))
}

// getCachedImage attempts to retrieve a rendered page from Redis.
func getCachedImage(c *fiber.Ctx, rdb *redis.Client, key string) ([]byte, error) {
	ctxRedis, cancel := context.WithTimeout(c.Context(), 1*time.Second)
	defer cancel()

	cached, err := rdb.Get(ctxRedis, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return nil, err
	}

	u.Info("Image cache hit", "key", key)
	return cached, nil
}

// setCachedImage stores a rendered page in Redis.
func setCachedImage(c *fiber.Ctx, rdb *redis.Client, key string, data []byte, ttl time.Duration) {
	ctxRedis, cancel := context.WithTimeout(c.Context(), 1*time.Second)
	defer cancel()

	if ttl <= 0 {
		ttl = 1 * time.Minute
	}

	if err := rdb.Set(ctxRedis, key, data, ttl).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}
