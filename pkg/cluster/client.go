// Package cluster provides the HTTP client for the cluster-scoped
// operator proxy API. The engine never talks to the Kubernetes API
// server directly; all resource and event reads go through this proxy.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrResourceNotFound is returned when the proxy reports 404 for a
// resource. Callers treat this as "no events", not a failure.
var ErrResourceNotFound = errors.New("resource not found")

// defaultTimeout bounds a single proxy request.
const defaultTimeout = 30 * time.Second

// ResourceRef identifies one Kubernetes resource within a cluster context.
type ResourceRef struct {
	Cluster   string
	Namespace string
	Kind      string
	Name      string
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", r.Cluster, r.Namespace, r.Kind, r.Name)
}

// ObjectRef mirrors the involvedObject block of a Kubernetes event.
type ObjectRef struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// WarningEvent is one raw Kubernetes event row from the proxy.
type WarningEvent struct {
	Reason         string    `json:"reason"`
	Message        string    `json:"message"`
	Type           string    `json:"type"`
	Count          int       `json:"count"`
	FirstTimestamp time.Time `json:"firstTimestamp"`
	LastTimestamp  time.Time `json:"lastTimestamp"`
	InvolvedObject ObjectRef `json:"involvedObject"`
}

// OwnerReference is one entry of a resource's metadata.ownerReferences.
type OwnerReference struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	UID        string `json:"uid"`
	Controller *bool  `json:"controller,omitempty"`
}

// Resource is the subset of a resource body the engine needs.
type Resource struct {
	Kind     string `json:"kind"`
	Metadata struct {
		Name            string           `json:"name"`
		Namespace       string           `json:"namespace"`
		UID             string           `json:"uid"`
		OwnerReferences []OwnerReference `json:"ownerReferences,omitempty"`
	} `json:"metadata"`
}

// Client talks to the operator proxy over HTTP. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a proxy client. token may be empty for unauthenticated
// in-cluster access.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// WarningEvents fetches Warning-type events for the exact resource using
// the involvedObject field selector.
func (c *Client) WarningEvents(ctx context.Context, ref ResourceRef) ([]WarningEvent, error) {
	selector := fmt.Sprintf("type=Warning,involvedObject.kind=%s,involvedObject.name=%s", ref.Kind, ref.Name)
	endpoint := fmt.Sprintf("%s/api/v1/clusters/%s/namespaces/%s/events?fieldSelector=%s",
		c.baseURL, url.PathEscape(ref.Cluster), url.PathEscape(ref.Namespace), url.QueryEscape(selector))

	var list struct {
		Items []WarningEvent `json:"items"`
	}
	if err := c.getJSON(ctx, endpoint, &list); err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list events for %s: %w", ref, err)
	}
	return list.Items, nil
}

// GetResource fetches the resource body, primarily for owner references.
func (c *Client) GetResource(ctx context.Context, ref ResourceRef) (*Resource, error) {
	endpoint := fmt.Sprintf("%s/api/v1/clusters/%s/namespaces/%s/%s/%s",
		c.baseURL, url.PathEscape(ref.Cluster), url.PathEscape(ref.Namespace),
		url.PathEscape(strings.ToLower(ref.Kind)+"s"), url.PathEscape(ref.Name))

	var res Resource
	if err := c.getJSON(ctx, endpoint, &res); err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("get resource %s: %w", ref, err)
	}
	return &res, nil
}

// GetResourceRaw fetches the full resource body as the proxy returned
// it. Used by the tool surface, where the model wants the whole object.
func (c *Client) GetResourceRaw(ctx context.Context, ref ResourceRef) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/api/v1/clusters/%s/namespaces/%s/%s/%s",
		c.baseURL, url.PathEscape(ref.Cluster), url.PathEscape(ref.Namespace),
		url.PathEscape(strings.ToLower(ref.Kind)+"s"), url.PathEscape(ref.Name))

	var raw json.RawMessage
	if err := c.getJSON(ctx, endpoint, &raw); err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("get resource %s: %w", ref, err)
	}
	return raw, nil
}

// ListResources lists resources of a kind in a namespace, optionally
// filtered by label selector.
func (c *Client) ListResources(ctx context.Context, clusterName, namespace, kind, labelSelector string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/api/v1/clusters/%s/namespaces/%s/%s",
		c.baseURL, url.PathEscape(clusterName), url.PathEscape(namespace),
		url.PathEscape(strings.ToLower(kind)+"s"))
	if labelSelector != "" {
		endpoint += "?labelSelector=" + url.QueryEscape(labelSelector)
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, endpoint, &raw); err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return json.RawMessage(`{"items":[]}`), nil
		}
		return nil, fmt.Errorf("list %s in %s/%s: %w", kind, clusterName, namespace, err)
	}
	return raw, nil
}

// PodLogs fetches recent container logs through the proxy.
func (c *Client) PodLogs(ctx context.Context, clusterName, namespace, pod, container string, tailLines int, previous bool) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/clusters/%s/namespaces/%s/pods/%s/log",
		c.baseURL, url.PathEscape(clusterName), url.PathEscape(namespace), url.PathEscape(pod))

	params := url.Values{}
	if container != "" {
		params.Set("container", container)
	}
	if tailLines > 0 {
		params.Set("tailLines", fmt.Sprintf("%d", tailLines))
	}
	if previous {
		params.Set("previous", "true")
	}
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	body, err := c.getText(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("logs for %s/%s/%s: %w", clusterName, namespace, pod, err)
	}
	return body, nil
}

func (c *Client) getText(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("proxy request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrResourceNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("proxy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read proxy response: %w", err)
	}
	return string(body), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("proxy request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrResourceNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("proxy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode proxy response: %w", err)
	}
	return nil
}
