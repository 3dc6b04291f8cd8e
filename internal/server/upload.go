package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), uploadStatus(err))
		return
	}
	defer r.MultipartForm.RemoveAll()
	var refs []ArtifactRef
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			ref, err := s.saveUploadedFile(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("save upload %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	resp := struct {
		Files []ArtifactRef `json:"files"`
	}{Files: refs}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) saveUploadedFile(fh *multipart.FileHeader) (ArtifactRef, error) {
	if fh == nil {
		return ArtifactRef{}, fmt.Errorf("nil file header")
	}
	src, err := fh.Open()
	if err != nil {
		return ArtifactRef{}, err
	}
	defer src.Close()
	path, err := s.saveStream(src, fh.Filename)
	if err != nil {
		return ArtifactRef{}, err
	}
	art, err := s.addArtifact(path, fh.Filename, guessContentType(fh.Filename), "upload")
	if err != nil {
		return ArtifactRef{}, err
	}
	return toRef(art), nil
}

// saveStream copies src into the uploads directory, keeping name's extension.
func (s *Server) saveStream(src io.Reader, name string) (string, error) {
	ext := filepath.Ext(name)
	pattern := "upload-*"
	if ext != "" {
		pattern = fmt.Sprintf("upload-*%s", ext)
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return "", err
	}
	if err := dest.Close(); err != nil {
		os.Remove(dest.Name())
		return "", err
	}
	return dest.Name(), nil
}

// requestInput is the capture a /convert request carries. Temp inputs were
// stored for this request only and are removed once it is served.
type requestInput struct {
	path string
	name string
	temp bool
}

// readRequestInput stores the capture carried by r. It accepts
// ?artifact=<id> for an earlier upload, a multipart form with a "file" part,
// or a raw body.
func (s *Server) readRequestInput(w http.ResponseWriter, r *http.Request) (requestInput, error) {
	if id := strings.TrimSpace(r.URL.Query().Get("artifact")); id != "" {
		art, ok := s.getArtifact(id)
		if !ok {
			return requestInput{}, fmt.Errorf("unknown artifact %s", id)
		}
		return requestInput{path: art.Path, name: art.Name}, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return requestInput{}, fmt.Errorf("parse multipart: %w", err)
		}
		defer r.MultipartForm.RemoveAll()
		f, fh, err := r.FormFile("file")
		if err != nil {
			return requestInput{}, fmt.Errorf("form file: %w", err)
		}
		defer f.Close()
		path, err := s.saveStream(f, fh.Filename)
		return requestInput{path: path, name: fh.Filename, temp: true}, err
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "upload.dlt"
	}
	path, err := s.saveStream(r.Body, name)
	return requestInput{path: path, name: name, temp: true}, err
}

func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
