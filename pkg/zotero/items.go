package zotero

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

func (c *httpClient) Item(ctx context.Context, key string) (*Item, error) {
	var it Item
	if _, err := c.getJSON(ctx, "get item "+key, "/items/"+url.PathEscape(key), nil, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (c *httpClient) Children(ctx context.Context, key string) ([]Item, error) {
	return getAll[Item](ctx, c, "get children of "+key, "/items/"+url.PathEscape(key)+"/children", nil)
}

func (c *httpClient) TopItems(ctx context.Context) ([]Item, error) {
	return getAll[Item](ctx, c, "get top items", "/items/top", nil)
}

func (c *httpClient) CollectionTopItems(ctx context.Context, collectionKey string) ([]Item, error) {
	return getAll[Item](ctx, c, "get items of collection "+collectionKey,
		"/collections/"+url.PathEscape(collectionKey)+"/items/top", nil)
}

func (c *httpClient) SubCollections(ctx context.Context, collectionKey string) ([]Collection, error) {
	return getAll[Collection](ctx, c, "get subcollections of "+collectionKey,
		"/collections/"+url.PathEscape(collectionKey)+"/collections", nil)
}

func (c *httpClient) Attachments(ctx context.Context) ([]Item, error) {
	return getAll[Item](ctx, c, "get attachments", "/items", url.Values{"itemType": {ItemTypeAttachment}})
}

// UpdateItem applies a partial update. version guards against concurrent
// edits: the server answers 412 when the item changed since it was read.
func (c *httpClient) UpdateItem(ctx context.Context, key string, version int, patch map[string]any) error {
	body, err := jsonBody(patch)
	if err != nil {
		return eris.Wrap(err, "zotero: marshal item patch")
	}
	_, _, err = c.do(ctx, request{
		op:      "update item " + key,
		method:  http.MethodPatch,
		path:    "/items/" + url.PathEscape(key),
		body:    body,
		headers: map[string]string{"Content-Type": "application/json", "If-Unmodified-Since-Version": strconv.Itoa(version)},
		want:    []int{http.StatusNoContent},
	})
	return err
}

type writeResponse struct {
	Successful map[string]Item        `json:"successful"`
	Failed     map[string]writeFailed `json:"failed"`
}

type writeFailed struct {
	Key     string `json:"key"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CreateItem creates one item from its JSON fields and returns it.
func (c *httpClient) CreateItem(ctx context.Context, data map[string]any) (*Item, error) {
	body, err := jsonBody([]map[string]any{data})
	if err != nil {
		return nil, eris.Wrap(err, "zotero: marshal new item")
	}
	resp, _, err := c.do(ctx, request{
		op:      "create item",
		method:  http.MethodPost,
		path:    "/items",
		body:    body,
		headers: map[string]string{"Content-Type": "application/json"},
	})
	if err != nil {
		return nil, err
	}

	var wr writeResponse
	if err := json.Unmarshal(resp, &wr); err != nil {
		return nil, eris.Wrap(err, "zotero: create item: decode response")
	}
	if f, ok := wr.Failed["0"]; ok {
		return nil, &APIError{Op: "create item", StatusCode: f.Code, Body: f.Message}
	}
	it, ok := wr.Successful["0"]
	if !ok {
		return nil, eris.New("zotero: create item: no item in response")
	}
	return &it, nil
}
