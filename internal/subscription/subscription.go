package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	sse "github.com/tmaxmax/go-sse"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/metrics"
	"github.com/JakeFAU/research-admin/internal/task"
)

// DefaultProgressPath is the well-known per-task progress route.
const DefaultProgressPath = "/api/admin/tasks/{taskId}/progress"

const defaultMaxEventSize = 1 << 20

var (
	// ErrEmptyTaskID is returned by Open when no task id is supplied.
	ErrEmptyTaskID = errors.New("task id is required")
	// ErrNilHandler is returned by Open when no progress handler is supplied.
	ErrNilHandler = errors.New("progress handler is required")
	// ErrStreamClosed is reported when the server ends the stream before a
	// terminal status was observed.
	ErrStreamClosed = errors.New("progress stream closed before a terminal status")
)

// HandshakeError reports a stream request the server did not accept.
type HandshakeError struct {
	StatusCode  int
	ContentType string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("progress stream handshake failed: status %d, content type %q", e.StatusCode, e.ContentType)
}

// ProgressHandler receives each decoded snapshot.
type ProgressHandler func(evt task.ProgressEvent)

// ErrorHandler receives the single transport failure of a subscription.
type ErrorHandler func(err error)

// Config controls how a Subscriber reaches the progress stream.
//   - BaseURL: scheme and host of the API (required).
//   - ProgressPath: route template containing {taskId} (default DefaultProgressPath).
//   - HTTPClient: client used for the stream; it must not carry a Timeout
//     since the response body stays open for the life of the task.
//   - MaxEventSize: largest accepted frame in bytes (default 1 MiB).
//   - Logger: optional structured logger.
type Config struct {
	BaseURL      string
	ProgressPath string
	HTTPClient   *http.Client
	MaxEventSize int
	Logger       *zap.Logger
}

// Subscriber opens progress subscriptions against one API.
type Subscriber struct {
	base         *url.URL
	progressPath string
	client       *http.Client
	maxEventSize int
	logger       *zap.Logger
}

// NewSubscriber validates cfg and returns a Subscriber.
func NewSubscriber(cfg Config) (*Subscriber, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.ProgressPath == "" {
		cfg.ProgressPath = DefaultProgressPath
	}
	if !strings.Contains(cfg.ProgressPath, "{taskId}") {
		return nil, fmt.Errorf("progress path %q must contain {taskId}", cfg.ProgressPath)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.MaxEventSize <= 0 {
		cfg.MaxEventSize = defaultMaxEventSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		base:         base,
		progressPath: cfg.ProgressPath,
		client:       cfg.HTTPClient,
		maxEventSize: cfg.MaxEventSize,
		logger:       logger,
	}, nil
}

// ProgressURL returns the well-known stream URL for taskID.
func (s *Subscriber) ProgressURL(taskID string) string {
	path := strings.ReplaceAll(s.progressPath, "{taskId}", url.PathEscape(taskID))
	return s.resolve(path)
}

func (s *Subscriber) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return s.base.ResolveReference(u).String()
}

// Open subscribes to the well-known progress stream of taskID. onError may
// be nil. The returned Subscription must be disposed by the caller once the
// surrounding context is torn down; disposal stays safe after self-close.
func (s *Subscriber) Open(taskID string, onProgress ProgressHandler, onError ErrorHandler) (*Subscription, error) {
	if taskID == "" {
		return nil, ErrEmptyTaskID
	}
	return s.open(taskID, s.ProgressURL(taskID), onProgress, onError)
}

// OpenURL is Open with an explicit stream URL, typically the progressUrl
// returned by the launch endpoint. Relative URLs resolve against the base URL.
func (s *Subscriber) OpenURL(
	taskID string,
	progressURL string,
	onProgress ProgressHandler,
	onError ErrorHandler,
) (*Subscription, error) {
	if taskID == "" {
		return nil, ErrEmptyTaskID
	}
	if progressURL == "" {
		return s.open(taskID, s.ProgressURL(taskID), onProgress, onError)
	}
	return s.open(taskID, s.resolve(progressURL), onProgress, onError)
}

func (s *Subscriber) open(taskID, streamURL string, onProgress ProgressHandler, onError ErrorHandler) (*Subscription, error) {
	if onProgress == nil {
		return nil, ErrNilHandler
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		taskID:     taskID,
		url:        streamURL,
		client:     s.client,
		readCfg:    &sse.ReadConfig{MaxEventSize: s.maxEventSize},
		onProgress: onProgress,
		onError:    onError,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     s.logger.With(zap.String("task_id", taskID)),
	}
	sub.state.Store(int32(StateOpen))
	metrics.IncActiveSubscriptions()
	go sub.run(ctx)
	return sub, nil
}

// Subscription is one live progress stream bound to one task id.
type Subscription struct {
	taskID     string
	url        string
	client     *http.Client
	readCfg    *sse.ReadConfig
	onProgress ProgressHandler
	onError    ErrorHandler
	logger     *zap.Logger

	state atomic.Int32
	// deliverMu is held by the reader around each state check and callback.
	deliverMu  sync.Mutex
	inCallback atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// TaskID returns the task this subscription follows.
func (s *Subscription) TaskID() string {
	return s.taskID
}

// URL returns the stream URL the subscription connected to.
func (s *Subscription) URL() string {
	return s.url
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Done is closed once the underlying connection has been released.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dispose closes the connection and suppresses every later callback. It is
// idempotent and may be called from inside a handler. Once Dispose returns
// from a goroutine other than the reader, no handler invocation begins.
func (s *Subscription) Dispose() {
	if s.transition(StateClosedByDisposal) {
		s.logger.Debug("progress subscription disposed")
	}
	s.cancel()
	if !s.inCallback.Load() {
		s.deliverMu.Lock()
		//nolint:staticcheck // empty critical section waits out an in-flight dispatch
		s.deliverMu.Unlock()
	}
}

func (s *Subscription) transition(to State) bool {
	return s.state.CompareAndSwap(int32(StateOpen), int32(to))
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer metrics.DecActiveSubscriptions()
	defer s.cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		s.fail(fmt.Errorf("build progress request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		s.fail(fmt.Errorf("connect progress stream: %w", err))
		return
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close progress stream body", zap.Error(cerr))
		}
	}()

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !isEventStream(contentType) {
		s.fail(&HandshakeError{StatusCode: resp.StatusCode, ContentType: contentType})
		return
	}
	s.logger.Debug("progress stream connected", zap.String("url", s.url))

	for frame, rerr := range sse.Read(resp.Body, s.readCfg) {
		if rerr != nil {
			s.fail(fmt.Errorf("read progress stream: %w", rerr))
			return
		}
		if s.dispatch(frame) {
			return
		}
	}
	s.fail(ErrStreamClosed)
}

// dispatch delivers one frame and reports whether the reader should stop.
func (s *Subscription) dispatch(frame sse.Event) bool {
	name := frame.Type
	if name == "" {
		name = task.EventMessage
	}
	switch name {
	case task.EventProgress, task.EventComplete, task.EventMessage:
	default:
		s.logger.Debug("ignoring progress stream event", zap.String("event", name))
		return s.State().Closed()
	}

	var evt task.ProgressEvent
	if err := json.Unmarshal([]byte(frame.Data), &evt); err != nil {
		metrics.ObserveDecodeError()
		s.logger.Warn("dropping malformed progress event",
			zap.String("event", name),
			zap.Int("bytes", len(frame.Data)),
			zap.Error(err),
		)
		return s.State().Closed()
	}
	terminal := evt.Status.IsTerminal() || name == task.EventComplete

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.State() != StateOpen {
		return true
	}
	metrics.ObserveProgressEvent(name)
	s.invoke(func() { s.onProgress(evt) })
	if terminal {
		if s.transition(StateClosedByTerminalEvent) {
			s.logger.Debug("progress stream reached terminal status", zap.String("status", string(evt.Status)))
		}
		return true
	}
	return s.State().Closed()
}

func (s *Subscription) fail(err error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if !s.transition(StateClosedByError) {
		return
	}
	metrics.ObserveTransportError()
	s.logger.Warn("progress stream failed", zap.Error(err))
	if s.onError != nil {
		s.invoke(func() { s.onError(err) })
	}
}

func (s *Subscription) invoke(fn func()) {
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	fn()
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/event-stream"
}
