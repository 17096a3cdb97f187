package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// Multipart uploads are capped well above the batch limit so oversized
// batches get rejected by the serving layer with a proper error instead
// of a truncated form.
const maxUploadBytes = 64 << 20

var errNoImages = errors.New("no image provided")

// predictInput is what the prediction endpoints extract from a request.
type predictInput struct {
	Model     string
	Images    [][]byte
	AllScores bool
}

// predictRequest is the JSON body accepted by the prediction endpoints.
// Images travel base64 encoded; multipart form uploads are the alternative.
type predictRequest struct {
	Model     string   `json:"model,omitempty"`
	Image     string   `json:"image,omitempty"`
	Images    []string `json:"images,omitempty"`
	AllScores bool     `json:"all_scores,omitempty"`
}

// readImages extracts the requested model, the submitted image bytes and the
// all_scores flag from either a multipart form (file fields "image" or
// "images") or a JSON body. A base64 entry that does not decode is kept as a
// nil item so batch requests report it per item instead of failing outright.
func readImages(r *http.Request) (predictInput, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	if mediaType == "multipart/form-data" {
		return readMultipart(r)
	}
	return readJSONBody(r)
}

func readMultipart(r *http.Request) (predictInput, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return predictInput{}, fmt.Errorf("parse multipart form: %w", err)
	}

	in := predictInput{Model: r.FormValue("model")}
	in.AllScores, _ = strconv.ParseBool(r.FormValue("all_scores"))

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		files = r.MultipartForm.File["image"]
	}
	if len(files) == 0 {
		return in, errNoImages
	}

	in.Images = make([][]byte, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return in, fmt.Errorf("open upload %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return in, fmt.Errorf("read upload %q: %w", fh.Filename, err)
		}
		in.Images = append(in.Images, data)
	}
	return in, nil
}

func readJSONBody(r *http.Request) (predictInput, error) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return predictInput{}, fmt.Errorf("invalid request body: %w", err)
	}

	in := predictInput{Model: req.Model, AllScores: req.AllScores}

	encoded := req.Images
	if req.Image != "" {
		encoded = append([]string{req.Image}, encoded...)
	}
	if len(encoded) == 0 {
		return in, errNoImages
	}

	in.Images = make([][]byte, len(encoded))
	for i, s := range encoded {
		in.Images[i] = decodeBase64Image(s)
	}
	return in, nil
}

// decodeBase64Image accepts plain base64 and data URLs. Garbage decodes to
// nil, which the engine rejects as an invalid image for that item.
func decodeBase64Image(s string) []byte {
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			s = s[idx+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}
