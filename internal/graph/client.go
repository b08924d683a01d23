package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	"sitetrace/internal/config"
)

// Node type tags understood by the platform's query endpoint.
const (
	TypeWorkPackage  = "WorkPackage"
	TypeActivity     = "Activity"
	TypeTask         = "Task"
	TypeElement      = "Element"
	TypeAsBuilt      = "AsBuilt"
	TypeAction       = "Action"
	TypeOperation    = "Operation"
	TypeConstruction = "Construction"
)

// APIError is a non-2xx response from the platform.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform: %d %s", e.Status, e.Message)
}

// Client talks to the graph platform over its REST API. In simulation
// mode all mutating calls are logged and reported successful without
// touching the remote store.
type Client struct {
	BaseURL    string
	Token      string
	PageSize   int
	Simulation bool
	HTTPClient *http.Client
	Log        *log.Logger

	ont *config.Config
}

// NewClient builds a client from the resolved configuration.
func NewClient(cfg *config.Config, simulation bool, logger *log.Logger) *Client {
	return &Client{
		BaseURL:    cfg.Platform.BaseURL,
		Token:      cfg.Platform.Token,
		PageSize:   cfg.Platform.PageSize,
		Simulation: simulation,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Log:        logger,
		ont:        cfg,
	}
}

type queryRequest struct {
	NodeType    string `json:"node_type"`
	ConnectedTo string `json:"connected_to,omitempty"`
	Cursor      string `json:"cursor,omitempty"`
	PageSize    int    `json:"page_size"`
}

type queryResponse struct {
	Items      []Node `json:"items"`
	Total      int    `json:"total"`
	NextCursor string `json:"next_cursor"`
}

type writeResponse struct {
	Success bool `json:"success"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// query drains every page of a node query.
func (c *Client) query(ctx context.Context, nodeType, connectedTo string) (NodeSet, error) {
	var set NodeSet
	cursor := ""
	for {
		req := queryRequest{
			NodeType:    nodeType,
			ConnectedTo: connectedTo,
			Cursor:      cursor,
			PageSize:    c.PageSize,
		}
		var page queryResponse
		if err := c.do(ctx, http.MethodPost, "/api/query", req, &page); err != nil {
			return NodeSet{}, fmt.Errorf("query %s: %w", nodeType, err)
		}
		set.Items = append(set.Items, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	set.Size = len(set.Items)
	return set, nil
}

// WorkPackages fetches every planned WorkPackage on the platform.
func (c *Client) WorkPackages(ctx context.Context) (NodeSet, error) {
	return c.query(ctx, TypeWorkPackage, "")
}

// ActivitiesOf fetches the Activities planned under a WorkPackage.
func (c *Client) ActivitiesOf(ctx context.Context, wpIRI string) (NodeSet, error) {
	return c.query(ctx, TypeActivity, wpIRI)
}

// TasksOf fetches the Tasks planned under an Activity.
func (c *Client) TasksOf(ctx context.Context, activityIRI string) (NodeSet, error) {
	return c.query(ctx, TypeTask, activityIRI)
}

// ElementsOf fetches the Elements targeted by a Task.
func (c *Client) ElementsOf(ctx context.Context, taskIRI string) (NodeSet, error) {
	return c.query(ctx, TypeElement, taskIRI)
}

// AsBuiltOf fetches the as-built scan records attached to an Element.
func (c *Client) AsBuiltOf(ctx context.Context, elementIRI string) (NodeSet, error) {
	return c.query(ctx, TypeAsBuilt, elementIRI)
}

// OperationOf fetches the as-performed Operation tied to an Activity.
func (c *Client) OperationOf(ctx context.Context, activityIRI string) (NodeSet, error) {
	return c.query(ctx, TypeOperation, activityIRI)
}

// Actions fetches every as-performed Action.
func (c *Client) Actions(ctx context.Context) (NodeSet, error) {
	return c.query(ctx, TypeAction, "")
}

// Operations fetches every as-performed Operation.
func (c *Client) Operations(ctx context.Context) (NodeSet, error) {
	return c.query(ctx, TypeOperation, "")
}

// Constructions fetches every as-performed Construction.
func (c *Client) Constructions(ctx context.Context) (NodeSet, error) {
	return c.query(ctx, TypeConstruction, "")
}

// NodeWithEdges fetches one node's full snapshot, edges included.
func (c *Client) NodeWithEdges(ctx context.Context, iri string) (*Node, error) {
	var n Node
	if err := c.do(ctx, http.MethodGet, "/api/nodes/"+url.PathEscape(iri), nil, &n); err != nil {
		return nil, fmt.Errorf("fetch node %s: %w", iri, err)
	}
	return &n, nil
}

// Exists reports whether a node is present at the IRI.
func (c *Client) Exists(ctx context.Context, iri string) (bool, error) {
	err := c.do(ctx, http.MethodHead, "/api/nodes/"+url.PathEscape(iri), nil, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// ConstructionRequired asks the platform's rule predicate whether the
// WorkPackage must carry a closed Construction record.
func (c *Client) ConstructionRequired(ctx context.Context, wpIRI string) (bool, error) {
	var out struct {
		Required bool `json:"required"`
	}
	path := "/api/workpackages/" + url.PathEscape(wpIRI) + "/construction-required"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, fmt.Errorf("construction rule for %s: %w", wpIRI, err)
	}
	return out.Required, nil
}

type nodeWriteRequest struct {
	NodeType string `json:"node_type"`
	Node     Node   `json:"node"`
}

func (c *Client) createNode(ctx context.Context, nodeType string, n Node) (bool, error) {
	if c.Simulation {
		c.Log.Info("simulation: create skipped", "type", nodeType, "iri", n.IRI)
		return true, nil
	}
	var out writeResponse
	if err := c.do(ctx, http.MethodPost, "/api/nodes", nodeWriteRequest{NodeType: nodeType, Node: n}, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

func (c *Client) updateNode(ctx context.Context, nodeType string, n Node) (bool, error) {
	if c.Simulation {
		c.Log.Info("simulation: update skipped", "type", nodeType, "iri", n.IRI)
		return true, nil
	}
	var out writeResponse
	path := "/api/nodes/" + url.PathEscape(n.IRI)
	if err := c.do(ctx, http.MethodPut, path, nodeWriteRequest{NodeType: nodeType, Node: n}, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

// CreateAction writes a new as-performed Action node.
func (c *Client) CreateAction(ctx context.Context, n Node) (bool, error) {
	return c.createNode(ctx, TypeAction, n)
}

// UpdateAction rewrites an existing as-performed Action node.
func (c *Client) UpdateAction(ctx context.Context, n Node) (bool, error) {
	return c.updateNode(ctx, TypeAction, n)
}

// CreateOperation writes a new as-performed Operation node.
func (c *Client) CreateOperation(ctx context.Context, n Node) (bool, error) {
	return c.createNode(ctx, TypeOperation, n)
}

// UpdateOperation rewrites an existing as-performed Operation node.
func (c *Client) UpdateOperation(ctx context.Context, n Node) (bool, error) {
	return c.updateNode(ctx, TypeOperation, n)
}

// CreateConstruction writes a new as-performed Construction node.
func (c *Client) CreateConstruction(ctx context.Context, n Node) (bool, error) {
	return c.createNode(ctx, TypeConstruction, n)
}

// UpdateConstruction rewrites an existing as-performed Construction node.
func (c *Client) UpdateConstruction(ctx context.Context, n Node) (bool, error) {
	return c.updateNode(ctx, TypeConstruction, n)
}

// DeleteNode removes a node and its edges.
func (c *Client) DeleteNode(ctx context.Context, iri string) (bool, error) {
	if c.Simulation {
		c.Log.Info("simulation: delete skipped", "iri", iri)
		return true, nil
	}
	var out writeResponse
	if err := c.do(ctx, http.MethodDelete, "/api/nodes/"+url.PathEscape(iri), nil, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

type linkRequest struct {
	From  string `json:"from"`
	Label string `json:"label"`
	To    string `json:"to"`
}

func (c *Client) link(ctx context.Context, from, labelName, to string) (bool, error) {
	label, err := c.ont.Predicate(labelName)
	if err != nil {
		return false, err
	}
	if c.Simulation {
		c.Log.Info("simulation: link skipped", "from", from, "label", label, "to", to)
		return true, nil
	}
	var out writeResponse
	if err := c.do(ctx, http.MethodPost, "/api/links", linkRequest{From: from, Label: label, To: to}, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

// LinkConstructionToOperation attaches an Operation under a Construction.
func (c *Client) LinkConstructionToOperation(ctx context.Context, constructionIRI, operationIRI string) (bool, error) {
	return c.link(ctx, constructionIRI, config.HasOperation, operationIRI)
}

// LinkOperationToAction attaches an Action under an Operation.
func (c *Client) LinkOperationToAction(ctx context.Context, operationIRI, actionIRI string) (bool, error) {
	return c.link(ctx, operationIRI, config.HasAction, actionIRI)
}
