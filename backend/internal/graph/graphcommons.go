package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"graphmirror/backend/internal/constants"
	"graphmirror/backend/internal/signal"
	apperrors "graphmirror/backend/pkg/errors"
	"graphmirror/backend/pkg/logger"
)

// BackendGraphCommons is the Backend name of the Graph Commons client
const BackendGraphCommons = "graphcommons"

// GraphCommons is a Remote backed by the Graph Commons REST API
type GraphCommons struct {
	root       string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

type createGraphRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Status      int                 `json:"status"`
	Signals     []signal.TypeSignal `json:"signals"`
}

type signalsRequest struct {
	Signals []signal.Signal `json:"signals"`
}

type graphEnvelope struct {
	Graph *GraphData `json:"graph"`
}

type signalsEnvelope struct {
	Graph *SignalsResponse `json:"graph"`
}

type pathsResponse struct {
	Paths []struct {
		Nodes []string `json:"nodes"`
	} `json:"paths"`
	Nodes map[string]Node `json:"nodes"`
}

// NewGraphCommons creates a client for the API rooted at root
func NewGraphCommons(root, token string) *GraphCommons {
	return &GraphCommons{
		root:  strings.TrimRight(root, "/"),
		token: token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Get(),
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests
func (c *GraphCommons) WithHTTPClient(hc *http.Client) *GraphCommons {
	c.httpClient = hc
	return c
}

func (c *GraphCommons) Backend() string {
	return BackendGraphCommons
}

// CreateGraph creates a graph and declares the node and edge types
func (c *GraphCommons) CreateGraph(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "create graph", c.root+"/api/v1/graphs", createGraphRequest{
		Name:        constants.DefaultGraphName,
		Description: constants.DefaultGraphDescription,
		Status:      0,
		Signals:     signal.GraphSchema(),
	})
	if err != nil {
		return "", err
	}

	var env graphEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", apperrors.NewGraphRequestFailed("create graph", http.StatusOK, fmt.Errorf("failed to decode response: %w", err))
	}
	if env.Graph == nil || env.Graph.ID == "" {
		return "", apperrors.NewGraphRequestFailed("create graph", http.StatusOK, fmt.Errorf("empty graph id in response"))
	}

	c.logger.Info("Remote graph created", zap.String("graph_id", env.Graph.ID))
	return env.Graph.ID, nil
}

// DownloadGraph fetches the nodes and edges of a graph
func (c *GraphCommons) DownloadGraph(ctx context.Context, graphID string) (*GraphData, error) {
	if graphID == "" {
		return nil, apperrors.ErrGraphNotInitialized
	}

	body, err := c.do(ctx, http.MethodGet, "download graph", c.graphPath(graphID), nil)
	if err != nil {
		return nil, err
	}

	var env graphEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperrors.NewGraphRequestFailed("download graph", http.StatusOK, fmt.Errorf("failed to decode response: %w", err))
	}
	if env.Graph == nil {
		return nil, ErrGraphNotFound{GraphID: graphID}
	}

	c.logger.Debug("Remote graph downloaded",
		zap.String("graph_id", graphID),
		zap.Int("nodes", len(env.Graph.Nodes)),
		zap.Int("edges", len(env.Graph.Edges)))
	return env.Graph, nil
}

// SendSignals adds signals to a graph. An unparseable response is not an
// error: the signals were accepted but no ids can be learned from it.
func (c *GraphCommons) SendSignals(ctx context.Context, graphID string, signals []signal.Signal) (*SignalsResponse, error) {
	if graphID == "" {
		return nil, apperrors.ErrGraphNotInitialized
	}

	body, err := c.do(ctx, http.MethodPut, "add signals", c.graphPath(graphID)+"/add", signalsRequest{Signals: signals})
	if err != nil {
		return nil, err
	}

	var env signalsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.logger.Debug("Ignoring unparseable add response",
			zap.String("graph_id", graphID),
			zap.Error(err))
		return nil, nil
	}
	return env.Graph, nil
}

// Mentioners follows User-SENT_MESSAGE-Message-MENTIONS-user paths ending at userRemoteID
func (c *GraphCommons) Mentioners(ctx context.Context, graphID, userRemoteID string) ([]string, error) {
	q := url.Values{}
	q.Set("fromtype", constants.NodeUser)
	q.Set("to", userRemoteID)
	return c.mentionPaths(ctx, graphID, q, 0)
}

// Mentioned follows the same paths starting at userRemoteID
func (c *GraphCommons) Mentioned(ctx context.Context, graphID, userRemoteID string) ([]string, error) {
	q := url.Values{}
	q.Set("totype", constants.NodeUser)
	q.Set("from", userRemoteID)
	return c.mentionPaths(ctx, graphID, q, 2)
}

func (c *GraphCommons) mentionPaths(ctx context.Context, graphID string, q url.Values, nodeIndex int) ([]string, error) {
	if graphID == "" {
		return nil, apperrors.ErrGraphNotInitialized
	}
	q.Set("via", constants.EdgeSentMessage+","+constants.EdgeMentions)
	q.Set("strict", "true")

	body, err := c.do(ctx, http.MethodGet, "paths", c.graphPath(graphID)+"/paths?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp pathsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewGraphRequestFailed("paths", http.StatusOK, fmt.Errorf("failed to decode response: %w", err))
	}

	ids := make([]string, 0, len(resp.Paths))
	for _, p := range resp.Paths {
		if nodeIndex >= len(p.Nodes) {
			continue
		}
		node, ok := resp.Nodes[p.Nodes[nodeIndex]]
		if !ok {
			continue
		}
		ids = append(ids, node.StringProperty(constants.PropUserID))
	}
	return dedupe(ids), nil
}

// GraphURL returns the browser URL of a graph
func (c *GraphCommons) GraphURL(graphID string) string {
	if graphID == "" {
		return ""
	}
	return fmt.Sprintf("%s/graphs/%s", c.root, graphID)
}

func (c *GraphCommons) graphPath(graphID string) string {
	return fmt.Sprintf("%s/api/v1/graphs/%s", c.root, url.PathEscape(graphID))
}

// do performs one API call and returns the body of a 2xx response
func (c *GraphCommons) do(ctx context.Context, method, operation, target string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authentication", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewGraphRequestFailed(operation, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewGraphRequestFailed(operation, 0, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Graph Commons API error",
			zap.String("operation", operation),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", truncate(string(body), 512)))
		return nil, apperrors.NewGraphRequestFailed(operation, resp.StatusCode, fmt.Errorf("body: %s", truncate(string(body), 512)))
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
