package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kdimtricp/vproctor/internal/platform"
)

const googleVisionAPIURL = "https://vision.googleapis.com/v1/images:annotate"

// GoogleVisionClient is a FaceModel backed by the Vision REST API's
// FACE_DETECTION feature.
type GoogleVisionClient struct {
	apiKey     string
	endpoint   string
	maxFaces   int
	httpClient *http.Client
}

func NewGoogleVisionClient(apiKey string) *GoogleVisionClient {
	return &GoogleVisionClient{
		apiKey:   apiKey,
		endpoint: googleVisionAPIURL,
		maxFaces: 10,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type googleVisionRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageContent  `json:"image"`
	Features []featureType `json:"features"`
}

type imageContent struct {
	Content string `json:"content"`
}

type featureType struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults,omitempty"`
}

type googleVisionResponse struct {
	Responses []annotateResponse `json:"responses"`
	Error     *googleError       `json:"error"`
}

type googleError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type annotateResponse struct {
	FaceAnnotations []faceAnnotation `json:"faceAnnotations"`
	Error           *googleError     `json:"error"`
}

type faceAnnotation struct {
	BoundingPoly        boundingPoly `json:"boundingPoly"`
	FdBoundingPoly      boundingPoly `json:"fdBoundingPoly"`
	Landmarks           []landmark   `json:"landmarks"`
	DetectionConfidence float64      `json:"detectionConfidence"`
}

type boundingPoly struct {
	Vertices []vertex `json:"vertices"`
}

type vertex struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type landmark struct {
	Type     string   `json:"type"`
	Position position `json:"position"`
}

type position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Load only checks configuration; the remote model is always warm.
func (c *GoogleVisionClient) Load(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("google vision API key is empty")
	}
	return ctx.Err()
}

func (c *GoogleVisionClient) Infer(ctx context.Context, frame platform.Frame) ([]FaceDetection, error) {
	reqBody := googleVisionRequest{
		Requests: []imageRequest{
			{
				Image: imageContent{
					Content: base64.StdEncoding.EncodeToString(frame.Data),
				},
				Features: []featureType{
					{Type: "FACE_DETECTION", MaxResults: c.maxFaces},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s?key=%s", c.endpoint, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var visionResp googleVisionResponse
	if err := json.Unmarshal(body, &visionResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if visionResp.Error != nil {
		return nil, fmt.Errorf("Google Vision API error: %s", visionResp.Error.Message)
	}

	if len(visionResp.Responses) == 0 {
		return nil, fmt.Errorf("no response from Google Vision API")
	}

	response := visionResp.Responses[0]
	if response.Error != nil {
		return nil, fmt.Errorf("Google Vision API error: %s", response.Error.Message)
	}

	faces := make([]FaceDetection, 0, len(response.FaceAnnotations))
	for _, face := range response.FaceAnnotations {
		detection := FaceDetection{Confidence: face.DetectionConfidence}

		for _, l := range face.Landmarks {
			detection.Landmarks = append(detection.Landmarks, Point{X: l.Position.X, Y: l.Position.Y})
		}

		poly := face.FdBoundingPoly
		if len(poly.Vertices) < 4 {
			poly = face.BoundingPoly
		}
		if box, ok := polyBox(poly); ok {
			detection.BoundingBox = &box
		}

		faces = append(faces, detection)
	}

	return faces, nil
}

func polyBox(poly boundingPoly) (BoundingBox, bool) {
	if len(poly.Vertices) < 4 {
		return BoundingBox{}, false
	}
	minX, minY := poly.Vertices[0].X, poly.Vertices[0].Y
	maxX, maxY := minX, minY

	for _, v := range poly.Vertices {
		if v.X < minX {
			minX = v.X
		}
		if v.X > maxX {
			maxX = v.X
		}
		if v.Y < minY {
			minY = v.Y
		}
		if v.Y > maxY {
			maxY = v.Y
		}
	}

	return BoundingBox{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX,
		Height: maxY - minY,
	}, true
}
