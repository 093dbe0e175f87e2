package zotero

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // the file upload protocol identifies files by MD5
	"encoding/hex"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type uploadAuth struct {
	Exists      int    `json:"exists"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Prefix      string `json:"prefix"`
	Suffix      string `json:"suffix"`
	UploadKey   string `json:"uploadKey"`
}

// UploadAttachment stores the file at path as a child attachment of parentKey.
// It creates the attachment item, requests an upload authorization, uploads the
// bytes unless the server already has them, and registers the upload.
func (c *httpClient) UploadAttachment(ctx context.Context, parentKey, path string) (*Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "zotero: read %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "zotero: stat %s", path)
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att, err := c.CreateItem(ctx, map[string]any{
		"itemType":    ItemTypeAttachment,
		"parentItem":  parentKey,
		"linkMode":    "imported_file",
		"title":       name,
		"contentType": contentType,
		"filename":    name,
		"tags":        []Tag{},
	})
	if err != nil {
		return nil, err
	}

	sum := md5.Sum(data) //nolint:gosec
	form := url.Values{
		"md5":      {hex.EncodeToString(sum[:])},
		"filename": {name},
		"filesize": {strconv.Itoa(len(data))},
		"mtime":    {strconv.FormatInt(info.ModTime().UnixMilli(), 10)},
	}
	fileHeaders := map[string]string{
		"Content-Type":  "application/x-www-form-urlencoded",
		"If-None-Match": "*",
	}

	body, _, err := c.do(ctx, request{
		op:      "authorize upload for " + att.Key,
		method:  http.MethodPost,
		path:    "/items/" + url.PathEscape(att.Key) + "/file",
		body:    bytes.NewBufferString(form.Encode()),
		headers: fileHeaders,
	})
	if err != nil {
		return nil, err
	}

	var auth uploadAuth
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, eris.Wrap(err, "zotero: decode upload authorization")
	}
	if auth.Exists == 1 {
		zap.L().Debug("zotero: file already stored", zap.String("attachment", att.Key))
		return att, nil
	}

	payload := make([]byte, 0, len(auth.Prefix)+len(data)+len(auth.Suffix))
	payload = append(payload, auth.Prefix...)
	payload = append(payload, data...)
	payload = append(payload, auth.Suffix...)

	if _, _, err := c.do(ctx, request{
		op:      "upload file for " + att.Key,
		method:  http.MethodPost,
		path:    auth.URL,
		body:    bytes.NewReader(payload),
		headers: map[string]string{"Content-Type": auth.ContentType},
		want:    []int{http.StatusCreated},
	}); err != nil {
		return nil, err
	}

	if _, _, err := c.do(ctx, request{
		op:      "register upload for " + att.Key,
		method:  http.MethodPost,
		path:    "/items/" + url.PathEscape(att.Key) + "/file",
		body:    bytes.NewBufferString(url.Values{"upload": {auth.UploadKey}}.Encode()),
		headers: fileHeaders,
		want:    []int{http.StatusNoContent},
	}); err != nil {
		return nil, err
	}

	return att, nil
}

// DownloadFile writes the stored file of attachment key to dst.
func (c *httpClient) DownloadFile(ctx context.Context, key, dst string) error {
	body, _, err := c.do(ctx, request{
		op:     "download file of " + key,
		method: http.MethodGet,
		path:   "/items/" + url.PathEscape(key) + "/file",
	})
	if err != nil {
		return err
	}

	f, err := os.Create(dst)
	if err != nil {
		return eris.Wrapf(err, "zotero: create %s", dst)
	}
	if _, err := io.Copy(f, bytes.NewReader(body)); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "zotero: write %s", dst)
	}
	return eris.Wrapf(f.Close(), "zotero: close %s", dst)
}
