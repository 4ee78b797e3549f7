package attachment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chatcore/internal/constants"
	"chatcore/internal/errors"
	"chatcore/internal/metrics"
	"chatcore/internal/models"
	"chatcore/internal/privacy"
	"chatcore/internal/tracing"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// Refresher issues a new signed URL for a document message
type Refresher interface {
	RefreshAttachmentURL(ctx context.Context, messageID string) (string, error)
}

// Opener performs the open action on a resolved URL and returns where the
// document ended up. It reports an expired URL with ATTACHMENT_EXPIRED.
type Opener interface {
	Open(ctx context.Context, url string, att *models.Attachment) (string, error)
}

type Config struct {
	CacheSize    int
	CacheTTL     time.Duration
	CheckTimeout time.Duration
}

// Resolver picks the URL to use for a document and refreshes expired signed
// URLs. Refreshed URLs live in a bounded in-memory cache for the session.
type Resolver struct {
	refresher Refresher
	opener    Opener
	client    *http.Client
	cache     *expirable.LRU[string, string]
	config    Config
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

func NewResolver(refresher Refresher, opener Opener, httpClient *http.Client, config Config, m *metrics.Metrics) *Resolver {
	return NewResolverWithLogger(refresher, opener, httpClient, config, m, nil)
}

func NewResolverWithLogger(refresher Refresher, opener Opener, httpClient *http.Client, config Config, m *metrics.Metrics, logger *logrus.Logger) *Resolver {
	if config.CacheSize <= 0 {
		config.CacheSize = constants.DefaultURLCacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Duration(constants.DefaultURLCacheTTLMinutes) * time.Minute
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = time.Duration(constants.DefaultURLCheckTimeoutSec) * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.CheckTimeout}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Resolver{
		refresher: refresher,
		opener:    opener,
		client:    httpClient,
		cache:     expirable.NewLRU[string, string](config.CacheSize, nil, config.CacheTTL),
		config:    config,
		metrics:   m,
		logger:    logger,
	}
}

// ResolveURL prefers a refreshed URL, then the signed URL, then the raw URL
func (r *Resolver) ResolveURL(msg *models.Message) string {
	url, _ := r.resolve(msg)
	return url
}

func (r *Resolver) resolve(msg *models.Message) (string, bool) {
	if msg == nil || msg.Attachment == nil {
		return "", false
	}
	if url, ok := r.cache.Get(msg.ID); ok {
		return url, true
	}
	if msg.Attachment.SignedURL != "" {
		return msg.Attachment.SignedURL, false
	}
	return msg.Attachment.URL, false
}

// Invalidate drops the refreshed URL held for a message
func (r *Resolver) Invalidate(messageID string) {
	r.cache.Remove(messageID)
}

// Download opens a document. A refreshed URL from the cache is opened
// directly. Otherwise the URL is checked first and, if it has expired, a new
// one is requested and the open is retried exactly once.
func (r *Resolver) Download(ctx context.Context, msg *models.Message) (string, error) {
	if msg == nil || msg.Attachment == nil {
		return "", errors.NewValidationError("message", "", "message has no attachment")
	}

	ctx, span := tracing.StartSpan(ctx, "attachment.Download", tracing.AttrMessageID.String(msg.ID))
	location, err := r.download(ctx, msg)
	tracing.End(span, err)
	return location, err
}

func (r *Resolver) download(ctx context.Context, msg *models.Message) (string, error) {
	fields := logrus.Fields{"message_id": privacy.MaskMessageID(msg.ID)}

	url, cached := r.resolve(msg)
	if cached {
		location, err := r.opener.Open(ctx, url, msg.Attachment)
		if err == nil {
			return location, nil
		}
		if !errors.HasCode(err, errors.ErrCodeAttachmentExpired) {
			return "", err
		}
		// The refreshed URL itself expired; start over from the message's own URL
		r.cache.Remove(msg.ID)
		r.logger.WithFields(fields).Debug("Cached attachment URL expired")
		url, _ = r.resolve(msg)
	}

	if url == "" {
		return "", errors.NewAttachmentError(msg.ID, fmt.Errorf("attachment has no url"))
	}

	expired, err := r.check(ctx, url)
	if err != nil {
		return "", errors.NewAttachmentError(msg.ID, err)
	}
	if !expired {
		location, err := r.opener.Open(ctx, url, msg.Attachment)
		if err == nil || !errors.HasCode(err, errors.ErrCodeAttachmentExpired) {
			return location, err
		}
	}

	fresh, err := r.refresher.RefreshAttachmentURL(ctx, msg.ID)
	r.metrics.URLRefresh(err == nil)
	if err != nil {
		errors.Entry(r.logger.WithFields(fields), err).Warn("Failed to refresh attachment URL")
		return "", errors.NewAttachmentError(msg.ID, err)
	}
	r.cache.Add(msg.ID, fresh)
	r.logger.WithFields(logrus.Fields{
		"message_id": privacy.MaskMessageID(msg.ID),
		"url":        privacy.MaskURL(fresh),
	}).Debug("Refreshed attachment URL")

	location, err := r.opener.Open(ctx, fresh, msg.Attachment)
	if err != nil {
		return "", errors.NewAttachmentError(msg.ID, err)
	}
	return location, nil
}

// check issues a HEAD request and reports whether the URL was rejected as
// expired. Any other non-success status is an error.
func (r *Resolver) check(ctx context.Context, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("build check request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("check attachment url: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return true, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		return false, nil
	default:
		return false, fmt.Errorf("attachment url returned status %d", resp.StatusCode)
	}
}
