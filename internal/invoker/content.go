package invoker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pitabwire/dataregion/model"
)

// EndpointGetWebPart renders region content.
const EndpointGetWebPart = "project/getWebPart.api"

// ContentClient implements model.ContentService over the remote web part
// renderer.
type ContentClient struct {
	c *Client
}

// NewContentClient returns a content service backed by c.
func NewContentClient(c *Client) *ContentClient {
	return &ContentClient{c: c}
}

// FetchContent posts the full parameter map and returns the rendered body.
// A JSON body carrying "exception" is a server error; a JSON body carrying
// "html" yields that member; any other body is the content itself.
func (cc *ContentClient) FetchContent(ctx context.Context, params url.Values) (model.Content, error) {
	resp, err := cc.c.do(ctx, call{
		endpoint: EndpointGetWebPart,
		method:   http.MethodPost,
		params:   params,
	})
	if err != nil {
		return model.Content{}, err
	}
	if exc := exceptionOf(resp.Body); exc != "" {
		return model.Content{}, model.NewServerExceptionError(exc)
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var payload struct {
			HTML string `json:"html"`
		}
		if err := json.Unmarshal(resp.Body, &payload); err == nil {
			return model.Content{HTML: payload.HTML}, nil
		}
	}
	return model.Content{HTML: string(resp.Body)}, nil
}
