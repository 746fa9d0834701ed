package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// APIError is a non-2xx answer from the Kubernetes API.
type APIError struct {
	Status  int
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("kubernetes api: %d %s: %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("kubernetes api: %d %s", e.Status, http.StatusText(e.Status))
}

// Is maps 404 onto ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL is the API server, usually a local kubectl proxy.
	BaseURL string
	Token   string
	// Timeout bounds unary calls. Streams are bounded only by their context.
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Breaker      resilience.Settings
	Logger       *zap.Logger
}

// DefaultClientOptions returns the stock client settings.
func DefaultClientOptions(baseURL string) ClientOptions {
	return ClientOptions{
		BaseURL:      baseURL,
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
		Breaker: resilience.Settings{
			Threshold: 5,
			Cooldown:  15 * time.Second,
		},
	}
}

// Client queries pods and opens log and event streams over the REST API.
type Client struct {
	api     *resty.Client
	stream  *resty.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
}

var (
	_ PodAPI       = (*Client)(nil)
	_ StreamSource = (*Client)(nil)
)

// NewClient creates a client with retries on transient failures and a
// circuit breaker around the API server.
func NewClient(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kube-api")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}
	retryClient.Logger = leveledLogger{logger.Sugar()}
	// Hand the last 5xx back so it surfaces as an *APIError.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	newResty := func() *resty.Client {
		c := resty.NewWithClient(retryClient.StandardClient())
		c.SetBaseURL(opts.BaseURL).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "podfs/1.0").
			SetJSONMarshaler(sonic.Marshal).
			SetJSONUnmarshaler(sonic.Unmarshal)
		if opts.Token != "" {
			c.SetAuthToken(opts.Token)
		}
		return c
	}

	api := newResty()
	if opts.Timeout > 0 {
		api.SetTimeout(opts.Timeout)
	}

	settings := opts.Breaker
	settings.IsFailure = func(err error) bool {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.Status >= 500
		}
		return err != nil
	}
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("api breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
	}

	return &Client{
		api:     api,
		stream:  newResty(),
		breaker: resilience.New("kube-api", settings),
		logger:  logger,
	}
}

// BreakerState reports whether calls are currently admitted.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

type podList struct {
	Items []pod `json:"items"`
}

type pod struct {
	Metadata struct {
		Name              string    `json:"name"`
		Namespace         string    `json:"namespace"`
		CreationTimestamp time.Time `json:"creationTimestamp"`
	} `json:"metadata"`
	Spec struct {
		NodeName   string `json:"nodeName"`
		Containers []struct {
			Name string `json:"name"`
		} `json:"containers"`
	} `json:"spec"`
	Status struct {
		Phase string `json:"phase"`
	} `json:"status"`
}

func (p pod) summary() Pod {
	out := Pod{
		Namespace:  p.Metadata.Namespace,
		Name:       p.Metadata.Name,
		Phase:      p.Status.Phase,
		Node:       p.Spec.NodeName,
		Containers: make([]string, 0, len(p.Spec.Containers)),
		Created:    p.Metadata.CreationTimestamp,
	}
	for _, c := range p.Spec.Containers {
		out.Containers = append(out.Containers, c.Name)
	}
	return out
}

type status struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ListPods lists the pods of one namespace.
func (c *Client) ListPods(ctx context.Context, namespace string) ([]Pod, error) {
	var list podList
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		resp, err := c.api.R().
			SetContext(ctx).
			SetPathParam("namespace", namespace).
			SetResult(&list).
			Get("/api/v1/namespaces/{namespace}/pods")
		return check(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("list pods in %s: %w", namespace, err)
	}
	pods := make([]Pod, 0, len(list.Items))
	for _, p := range list.Items {
		pods = append(pods, p.summary())
	}
	return pods, nil
}

// GetPod fetches one pod.
func (c *Client) GetPod(ctx context.Context, target types.RemoteTarget) (*Pod, error) {
	var p pod
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		resp, err := c.api.R().
			SetContext(ctx).
			SetPathParams(podParams(target)).
			SetResult(&p).
			Get("/api/v1/namespaces/{namespace}/pods/{pod}")
		return check(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("get pod %s: %w", target, err)
	}
	summary := p.summary()
	return &summary, nil
}

// DeletePod deletes a pod.
func (c *Client) DeletePod(ctx context.Context, target types.RemoteTarget) error {
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		resp, err := c.api.R().
			SetContext(ctx).
			SetPathParams(podParams(target)).
			Delete("/api/v1/namespaces/{namespace}/pods/{pod}")
		return check(resp, err)
	})
	if err != nil {
		return fmt.Errorf("delete pod %s: %w", target, err)
	}
	c.logger.Info("pod deleted", zap.String("target", target.String()))
	return nil
}

// Logs follows the container log of target.
func (c *Client) Logs(ctx context.Context, target types.RemoteTarget, opts LogOptions) (io.ReadCloser, error) {
	query := map[string]string{"follow": strconv.FormatBool(opts.Follow)}
	container := opts.Container
	if container == "" {
		container = target.Container
	}
	if container != "" {
		query["container"] = container
	}
	if opts.TailLines > 0 {
		query["tailLines"] = strconv.FormatInt(opts.TailLines, 10)
	}
	if opts.Timestamps {
		query["timestamps"] = "true"
	}
	if opts.Previous {
		query["previous"] = "true"
	}
	return c.open(ctx, "/api/v1/namespaces/{namespace}/pods/{pod}/log", podParams(target), query)
}

// Events watches the events whose involved object is target's pod.
func (c *Client) Events(ctx context.Context, target types.RemoteTarget) (io.ReadCloser, error) {
	query := map[string]string{
		"watch":         "true",
		"fieldSelector": "involvedObject.name=" + target.Pod,
	}
	return c.open(ctx, "/api/v1/namespaces/{namespace}/events", map[string]string{"namespace": target.Namespace}, query)
}

// open starts a streaming GET. The body stays open until the caller closes it
// or ctx ends.
func (c *Client) open(ctx context.Context, path string, params, query map[string]string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		resp, err := c.stream.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			SetPathParams(params).
			SetQueryParams(query).
			Get(path)
		if err != nil {
			return err
		}
		if resp.IsError() {
			raw := resp.RawBody()
			defer raw.Close()
			data, _ := io.ReadAll(io.LimitReader(raw, 64*1024))
			return apiError(resp.StatusCode(), data)
		}
		body = resp.RawBody()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return body, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp.StatusCode(), resp.Body())
	}
	return nil
}

func apiError(code int, body []byte) error {
	apiErr := &APIError{Status: code}
	var st status
	if len(body) > 0 && sonic.Unmarshal(body, &st) == nil {
		apiErr.Reason = st.Reason
		apiErr.Message = st.Message
	}
	return apiErr
}

func podParams(t types.RemoteTarget) map[string]string {
	return map[string]string{"namespace": t.Namespace, "pod": t.Pod}
}

// leveledLogger adapts zap to retryablehttp's LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
