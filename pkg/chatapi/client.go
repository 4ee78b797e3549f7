package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatcore/internal/constants"
	"chatcore/internal/errors"
	"chatcore/internal/models"
	"chatcore/internal/privacy"
	"chatcore/internal/tracing"
	"chatcore/internal/validation"
	"chatcore/pkg/circuitbreaker"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// CorrelationHeader carries the client-generated id of a send
const CorrelationHeader = "X-Correlation-ID"

const maxResponseBytes = 8 << 20

// Client talks to the chat REST API. All calls share one circuit breaker so a
// dead backend fails fast instead of stacking timeouts.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	return NewClientWithLogger(baseURL, token, httpClient, nil, nil)
}

func NewClientWithLogger(baseURL, token string, httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(constants.DefaultHTTPTimeoutSec) * time.Second}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	if breaker == nil {
		breaker = circuitbreaker.New("chat-api", circuitbreaker.Config{
			MaxFailures: constants.DefaultBreakerMaxFailures,
			Cooldown:    time.Duration(constants.DefaultBreakerCooldownSec) * time.Second,
			Trips:       errors.IsRetryable,
		}, logger)
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  httpClient,
		breaker: breaker,
		logger:  logger,
	}
}

type request struct {
	method        string
	route         string
	path          string
	query         url.Values
	body          interface{}
	rawBody       []byte
	contentType   string
	correlationID string
}

func (c *Client) do(ctx context.Context, r request) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "chatapi "+r.method+" "+r.route,
		tracing.AttrHTTPRoute.String(r.route),
		attribute.String("http.method", r.method),
	)

	var result Result
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.roundTrip(ctx, r)
		return err
	})
	tracing.End(span, err)
	return result, err
}

func (c *Client) roundTrip(ctx context.Context, r request) (Result, error) {
	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var body io.Reader
	contentType := r.contentType
	switch {
	case r.rawBody != nil:
		body = bytes.NewReader(r.rawBody)
	case r.body != nil:
		jsonData, err := json.Marshal(r.body)
		if err != nil {
			return Result{}, errors.Wrap(err, errors.ErrCodeInternalError, "failed to marshal request")
		}
		body = bytes.NewReader(jsonData)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.ErrCodeInternalError, "failed to create request")
	}

	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if r.correlationID != "" {
		req.Header.Set(CorrelationHeader, r.correlationID)
	}
	tracing.InjectHTTP(ctx, req.Header)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		errors.Entry(c.logger.WithFields(logrus.Fields{
			"route":  r.route,
			"method": r.method,
		}), err).Warn("Chat API request failed")
		return Result{}, errors.WrapRetryable(err, errors.ErrCodeChatAPI, "failed to send request").
			WithContext("endpoint", r.route).
			WithUserMessage("Network error, please try again")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, errors.WrapRetryable(err, errors.ErrCodeChatAPI, "failed to read response body").
			WithContext("endpoint", r.route)
	}

	c.logger.WithFields(logrus.Fields{
		"route":       r.route,
		"method":      r.method,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Chat API response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if res, decodeErr := decodeEnvelope(respBody); decodeErr == nil && res.Message != "" {
			msg = res.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Result{}, errors.NewAPIError(r.route, resp.StatusCode,
			fmt.Errorf("chat API error: status %d: %s", resp.StatusCode, msg))
	}

	result, err := decodeEnvelope(respBody)
	if err != nil {
		return Result{}, errors.NewAPIError(r.route, resp.StatusCode, err)
	}
	if result.Kind == ResultFailure {
		return result, errors.NewAPIError(r.route, resp.StatusCode,
			fmt.Errorf("chat API reported failure: %s", result.Message))
	}
	return result, nil
}

func pageQuery(page, limit int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// ListConversations fetches one page of the conversation feed
func (c *Client) ListConversations(ctx context.Context, page, limit int) (*ConversationPage, error) {
	if err := validation.ValidatePage(page); err != nil {
		return nil, err
	}

	res, err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/conversations",
		path:   "/conversations",
		query:  pageQuery(page, limit),
	})
	if err != nil {
		return nil, err
	}

	out := &ConversationPage{Page: page}
	switch res.Kind {
	case ResultEmpty:
		return out, nil
	case ResultData:
		var dto conversationPageDTO
		if err := decodeData(res, &dto); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeChatAPI, "invalid conversation page")
		}
		out.HasMore = dto.HasMore
		for _, item := range dto.Items {
			out.Conversations = append(out.Conversations, item.ToModel())
		}
		return out, nil
	default:
		return nil, errors.New(errors.ErrCodeChatAPI, "unexpected conversation page result: "+res.Kind.String())
	}
}

// GetOrCreateConversation returns the direct conversation with peerID,
// creating it server-side on first contact.
func (c *Client) GetOrCreateConversation(ctx context.Context, peerID string) (*models.Conversation, error) {
	if err := validation.ValidateID(peerID, "peer id"); err != nil {
		return nil, err
	}

	res, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/conversations",
		path:   "/conversations",
		body:   getOrCreateRequest{PeerID: peerID},
	})
	if err != nil {
		return nil, err
	}

	var dto ConversationDTO
	if err := decodeData(res, &dto); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeChatAPI, "invalid conversation response")
	}
	return dto.ToModel(), nil
}

// ListMessages fetches one page of history. Page 1 is the newest page; each
// page is returned oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page, limit int) (*MessagePage, error) {
	if err := validation.ValidateID(conversationID, "conversation id"); err != nil {
		return nil, err
	}
	if err := validation.ValidatePage(page); err != nil {
		return nil, err
	}

	res, err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/conversations/{id}/messages",
		path:   "/conversations/" + url.PathEscape(conversationID) + "/messages",
		query:  pageQuery(page, limit),
	})
	if err != nil {
		return nil, err
	}

	out := &MessagePage{Page: page}
	switch res.Kind {
	case ResultEmpty:
		return out, nil
	case ResultData:
		var dto messagePageDTO
		if err := decodeData(res, &dto); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeChatAPI, "invalid message page")
		}
		out.HasMore = dto.HasMore
		for _, item := range dto.Items {
			msg := item.ToModel()
			if msg.ConversationID == "" {
				msg.ConversationID = conversationID
			}
			out.Messages = append(out.Messages, msg)
		}
		return out, nil
	default:
		return nil, errors.New(errors.ErrCodeChatAPI, "unexpected message page result: "+res.Kind.String())
	}
}

// SendText posts a text message and returns the confirmed message
func (c *Client) SendText(ctx context.Context, conversationID string, payload SendTextRequest) (*models.Message, error) {
	if err := validation.ValidateID(conversationID, "conversation id"); err != nil {
		return nil, err
	}
	if err := validation.ValidateContent(payload.Content); err != nil {
		return nil, err
	}

	res, err := c.do(ctx, request{
		method:        http.MethodPost,
		route:         "/conversations/{id}/messages",
		path:          "/conversations/" + url.PathEscape(conversationID) + "/messages",
		body:          payload,
		correlationID: payload.ClientID,
	})
	if err != nil {
		return nil, err
	}
	return c.decodeMessage(res, conversationID, payload.ClientID)
}

// SendDocument uploads a document as multipart form data
func (c *Client) SendDocument(ctx context.Context, conversationID string, doc Document) (*models.Message, error) {
	if err := validation.ValidateID(conversationID, "conversation id"); err != nil {
		return nil, err
	}
	if err := validation.ValidateDocumentSize(int64(len(doc.Data))); err != nil {
		return nil, err
	}
	if err := validation.ValidateCaption(doc.Caption); err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	mimeType := mimetype.Detect(doc.Data).String()
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, doc.Name))
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to create form file")
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to copy file content")
	}

	if doc.Caption != "" {
		if err := writer.WriteField("caption", doc.Caption); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to write caption")
		}
	}
	if doc.ClientID != "" {
		if err := writer.WriteField("clientId", doc.ClientID); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to write client id")
		}
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to close multipart writer")
	}

	c.logger.WithFields(logrus.Fields{
		"conversation_id": privacy.MaskConversationID(conversationID),
		"mime_type":       mimeType,
		"size":            len(doc.Data),
	}).Debug("Uploading document")

	res, err := c.do(ctx, request{
		method:        http.MethodPost,
		route:         "/conversations/{id}/documents",
		path:          "/conversations/" + url.PathEscape(conversationID) + "/documents",
		rawBody:       body.Bytes(),
		contentType:   writer.FormDataContentType(),
		correlationID: doc.ClientID,
	})
	if err != nil {
		return nil, err
	}

	msg, err := c.decodeMessage(res, conversationID, doc.ClientID)
	if err != nil {
		return nil, err
	}
	if msg.Attachment != nil && msg.Attachment.MimeType == "" {
		msg.Attachment.MimeType = mimeType
	}
	return msg, nil
}

func (c *Client) decodeMessage(res Result, conversationID, clientID string) (*models.Message, error) {
	var dto MessageDTO
	if err := decodeData(res, &dto); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeChatAPI, "invalid message response")
	}
	if dto.ID == "" {
		return nil, errors.New(errors.ErrCodeChatAPI, "message response has no id")
	}

	msg := dto.ToModel()
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	if msg.ClientID == "" {
		msg.ClientID = clientID
	}
	return msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	if err := validation.ValidateID(messageID, "message id"); err != nil {
		return err
	}

	_, err := c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/messages/{id}",
		path:   "/messages/" + url.PathEscape(messageID),
	})
	return err
}

func (c *Client) BulkDeleteMessages(ctx context.Context, messageIDs []string) error {
	if err := validation.ValidateIDs(messageIDs, "message id"); err != nil {
		return err
	}

	_, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/messages/bulk-delete",
		path:   "/messages/bulk-delete",
		body:   bulkDeleteRequest{MessageIDs: messageIDs},
	})
	return err
}

func (c *Client) ArchiveConversation(ctx context.Context, conversationID string) error {
	return c.archive(ctx, http.MethodPost, conversationID)
}

func (c *Client) UnarchiveConversation(ctx context.Context, conversationID string) error {
	return c.archive(ctx, http.MethodDelete, conversationID)
}

func (c *Client) archive(ctx context.Context, method, conversationID string) error {
	if err := validation.ValidateID(conversationID, "conversation id"); err != nil {
		return err
	}

	_, err := c.do(ctx, request{
		method: method,
		route:  "/conversations/{id}/archive",
		path:   "/conversations/" + url.PathEscape(conversationID) + "/archive",
	})
	return err
}

// AcceptConversation accepts a pending conversation. The server may answer
// with the updated conversation or with an empty success.
func (c *Client) AcceptConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	if err := validation.ValidateID(conversationID, "conversation id"); err != nil {
		return nil, err
	}

	res, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/conversations/{id}/accept",
		path:   "/conversations/" + url.PathEscape(conversationID) + "/accept",
	})
	if err != nil {
		return nil, err
	}

	switch res.Kind {
	case ResultEmpty:
		return nil, nil
	case ResultData:
		var dto ConversationDTO
		if err := decodeData(res, &dto); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeChatAPI, "invalid conversation response")
		}
		return dto.ToModel(), nil
	default:
		return nil, errors.New(errors.ErrCodeChatAPI, "unexpected accept result: "+res.Kind.String())
	}
}

func (c *Client) ReportConversation(ctx context.Context, conversationID, reason string) error {
	if err := validation.ValidateID(conversationID, "conversation id"); err != nil {
		return err
	}
	if err := validation.ValidateStringLength(reason, "reason", 0, constants.MaxReportReasonSize); err != nil {
		return err
	}

	_, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/conversations/{id}/report",
		path:   "/conversations/" + url.PathEscape(conversationID) + "/report",
		body:   reportRequest{Reason: reason},
	})
	return err
}

// ForwardMessages copies messages into each target conversation in one call.
// The created copies are returned when the server includes them.
func (c *Client) ForwardMessages(ctx context.Context, messageIDs, conversationIDs []string) ([]*models.Message, error) {
	if err := validation.ValidateIDs(messageIDs, "message id"); err != nil {
		return nil, err
	}
	if err := validation.ValidateIDs(conversationIDs, "conversation id"); err != nil {
		return nil, err
	}

	res, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/messages/forward",
		path:   "/messages/forward",
		body:   forwardRequest{MessageIDs: messageIDs, ConversationIDs: conversationIDs},
	})
	if err != nil {
		return nil, err
	}

	switch res.Kind {
	case ResultEmpty:
		return nil, nil
	case ResultData:
		var dtos []MessageDTO
		if err := decodeData(res, &dtos); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeChatAPI, "invalid forward response")
		}
		out := make([]*models.Message, 0, len(dtos))
		for _, dto := range dtos {
			out = append(out, dto.ToModel())
		}
		return out, nil
	default:
		return nil, errors.New(errors.ErrCodeChatAPI, "unexpected forward result: "+res.Kind.String())
	}
}

// RefreshAttachmentURL asks the server for a fresh signed URL for a document message
func (c *Client) RefreshAttachmentURL(ctx context.Context, messageID string) (string, error) {
	if err := validation.ValidateID(messageID, "message id"); err != nil {
		return "", err
	}

	res, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/messages/{id}/refresh-url",
		path:   "/messages/" + url.PathEscape(messageID) + "/refresh-url",
	})
	if err != nil {
		return "", err
	}

	var dto refreshURLResponse
	if err := decodeData(res, &dto); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeChatAPI, "invalid refresh response")
	}
	signed := dto.SignedURL
	if signed == "" {
		signed = dto.URL
	}
	if signed == "" {
		return "", errors.New(errors.ErrCodeChatAPI, "refresh response has no url")
	}
	return signed, nil
}

// GetUserProfile fetches a profile snapshot
func (c *Client) GetUserProfile(ctx context.Context, userID string) (*models.Participant, error) {
	if err := validation.ValidateID(userID, "user id"); err != nil {
		return nil, err
	}

	res, err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/users/{id}",
		path:   "/users/" + url.PathEscape(userID),
	})
	if err != nil {
		if errors.StatusCode(err) == http.StatusNotFound {
			return nil, errors.NewNotFoundError("user", userID)
		}
		return nil, err
	}

	var dto UserDTO
	if err := decodeData(res, &dto); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeChatAPI, "invalid user response")
	}
	p := dto.ToParticipant()
	return &p, nil
}

// IsBreakerOpen reports whether err came from the open circuit breaker
func IsBreakerOpen(err error) bool {
	return circuitbreaker.IsOpenError(err)
}
