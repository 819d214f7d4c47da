package twcc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/goccy/go-json"

	"twcc-gpu-monitor/pkg/monitoring"
	"twcc-gpu-monitor/pkg/timeutil"
)

const (
	DefaultBaseURL = "https://apigateway.twcc.ai/api/v3/k8s-D-twcc"
	apiHost        = "k8s-D-twcc"

	// DefaultUtilizationWindow is used when a utilization query leaves Window unset.
	DefaultUtilizationWindow = 2 * time.Hour

	ReadyStatus = "Ready"

	sshPort      = 22
	maxErrorBody = 512
)

// API is the part of the TWCC container service the collector consumes.
type API interface {
	ResolveProject(ctx context.Context, name string) (ID, error)
	ListSites(ctx context.Context, projectID ID) ([]DtoSite, error)
	GetPodForSite(ctx context.Context, siteID ID) (*Pod, error)
	GetUtilization(ctx context.Context, siteID ID, podName string, query UtilizationQuery) (monitoring.Series, error)
}

// UtilizationQuery bounds a utilization request to [End-Window, End].
// A zero End means now, a zero Window means DefaultUtilizationWindow.
type UtilizationQuery struct {
	End    time.Time
	Window time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	Log        logr.Logger
	now        func() time.Time
}

var _ API = &Client{}

// NewClient returns a client for baseURL authenticating with apiKey. Retries
// are the concern of httpClient's transport, see NewRetryTransport.
func NewClient(baseURL string, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		Log:        logr.Discard(),
		now:        time.Now,
	}
}

func (c *Client) makeRequest(ctx context.Context, method string, endpoint string, params url.Values, out interface{}) error {
	requestURL := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}
	c.Log.V(1).Info("making request", "method", method, "url", requestURL)

	request, err := http.NewRequestWithContext(ctx, method, requestURL, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("x-api-host", apiHost)
	request.Header.Set("x-api-key", c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, requestURL, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading body: %w", method, requestURL, err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &RequestError{
			Method:     method,
			URL:        requestURL,
			StatusCode: response.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, requestURL, err)
	}
	return nil
}

func (c *Client) ResolveProject(ctx context.Context, name string) (ID, error) {
	var projects []DtoProject
	if err := c.makeRequest(ctx, http.MethodGet, "projects/", url.Values{"name": {name}}, &projects); err != nil {
		return "", err
	}
	if len(projects) == 0 {
		return "", fmt.Errorf("%w: %q", ErrProjectNotFound, name)
	}
	return projects[0].ID, nil
}

func (c *Client) ListSites(ctx context.Context, projectID ID) ([]DtoSite, error) {
	params := url.Values{
		"project":   {projectID.String()},
		"all_users": {"1"},
	}
	var sites []DtoSite
	if err := c.makeRequest(ctx, http.MethodGet, "sites/", params, &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

func (c *Client) GetPodForSite(ctx context.Context, siteID ID) (*Pod, error) {
	var detail DtoContainerDetail
	if err := c.makeRequest(ctx, http.MethodGet, "sites/"+url.PathEscape(siteID.String())+"/container/", nil, &detail); err != nil {
		return nil, err
	}
	if len(detail.Pod) == 0 {
		return nil, fmt.Errorf("%w: site %s", ErrNoPod, siteID)
	}

	dtoPod := detail.Pod[0]
	pod := &Pod{
		Name:   dtoPod.Name,
		Status: dtoPod.Status,
		Flavor: dtoPod.Flavor,
	}
	if len(dtoPod.Container) > 0 {
		pod.Container = dtoPod.Container[0]
	}
	if len(detail.Service) > 0 {
		service := detail.Service[0]
		if len(service.PublicIP) > 0 {
			pod.PublicIP = service.PublicIP[0]
		}
		for _, port := range service.Ports {
			if port.TargetPort == sshPort {
				pod.SSHPort = port.Port
			}
		}
	}
	return pod, nil
}

func (c *Client) GetUtilization(ctx context.Context, siteID ID, podName string, query UtilizationQuery) (monitoring.Series, error) {
	end := query.End
	if end.IsZero() {
		end = c.now()
	}
	window := query.Window
	if window <= 0 {
		window = DefaultUtilizationWindow
	}

	params := url.Values{
		"begin_time": {timeutil.FormatTimestamp(end.Add(-window))},
		"end_time":   {timeutil.FormatTimestamp(end)},
		"pod_name":   {podName},
	}
	var series monitoring.Series
	if err := c.makeRequest(ctx, http.MethodGet, "sites/"+url.PathEscape(siteID.String())+"/container/gpu/", params, &series); err != nil {
		return nil, err
	}
	if series == nil {
		series = monitoring.Series{}
	}
	return series, nil
}
