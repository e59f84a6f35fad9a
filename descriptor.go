package qbt

import (
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jfxdev/qbtclient/request"
)

const apiPrefix = "/api/v2/"

// Request describes one Web API call. Build it with Get, Post or Upload.
type Request struct {
	// Name identifies the operation in errors, logs and metrics; defaults to Path.
	Name   string
	Method string
	// Path is relative to /api/v2/, e.g. "torrents/info".
	Path   string
	Params url.Values
	Files  []Attachment
	// MinVersion, when set, is checked against the server Web API version
	// before anything is sent.
	MinVersion *ServerVersion
	// SkipAuth marks the authentication calls themselves.
	SkipAuth bool
}

// Attachment is a multipart file. Path-backed attachments are read again on
// every attempt; Data is used as-is when Path is empty.
type Attachment struct {
	Field       string
	Name        string
	Path        string
	Data        []byte
	ContentType string
}

// Get describes a query-string request.
func Get(path string, params url.Values) Request {
	return Request{Method: http.MethodGet, Path: path, Params: params}
}

// Post describes a form-encoded request.
func Post(path string, params url.Values) Request {
	return Request{Method: http.MethodPost, Path: path, Params: params}
}

// Upload describes a multipart request carrying files.
func Upload(path string, params url.Values, files ...Attachment) Request {
	return Request{Method: http.MethodPost, Path: path, Params: params, Files: files}
}

// RequireVersion returns a copy of r gated on the given Web API version.
func (r Request) RequireVersion(v ServerVersion) Request {
	r.MinVersion = &v
	return r
}

// Named returns a copy of r with an explicit operation name.
func (r Request) Named(name string) Request {
	r.Name = name
	return r
}

func (r Request) operation() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Path
}

func (r Request) url() string {
	return apiPrefix + strings.TrimPrefix(r.Path, "/")
}

// options converts r into transport options; files must already be loaded.
func (r Request) options(files []request.File) []request.Option {
	var opts []request.Option
	if len(r.Params) > 0 {
		if r.Method == http.MethodGet {
			opts = append(opts, request.WithQuery(r.Params))
		} else {
			opts = append(opts, request.WithForm(r.Params))
		}
	}
	for _, f := range files {
		opts = append(opts, request.WithFile(f))
	}
	return opts
}

// checkFiles verifies path-backed attachments exist.
func (r Request) checkFiles(fsys FileSystem) error {
	for _, a := range r.Files {
		if a.Path == "" {
			continue
		}
		info, err := fsys.Stat(a.Path)
		if err != nil {
			return newFileNotFoundError(r.operation(), a.Path, err)
		}
		if info.IsDir() {
			return newFileNotFoundError(r.operation(), a.Path, nil)
		}
	}
	return nil
}

// loadFiles reads every attachment for one attempt.
func (r Request) loadFiles(fsys FileSystem) ([]request.File, error) {
	if len(r.Files) == 0 {
		return nil, nil
	}

	files := make([]request.File, 0, len(r.Files))
	for _, a := range r.Files {
		data := a.Data
		name := a.Name
		if a.Path != "" {
			var err error
			data, err = fsys.ReadFile(a.Path)
			if err != nil {
				return nil, newFileNotFoundError(r.operation(), a.Path, err)
			}
			if name == "" {
				name = filepath.Base(a.Path)
			}
		}

		contentType := a.ContentType
		if contentType == "" {
			contentType = detectContentType(name, data)
		}

		field := a.Field
		if field == "" {
			field = "torrents"
		}

		files = append(files, request.File{
			Field:       field,
			Name:        name,
			ContentType: contentType,
			Data:        data,
		})
	}
	return files, nil
}

func detectContentType(name string, data []byte) string {
	if strings.EqualFold(filepath.Ext(name), ".torrent") {
		return "application/x-bittorrent"
	}
	return mimetype.Detect(data).String()
}
