package facedetect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
)

const (
	// Rekognition rejects inline images above 5MB.
	maxRekognitionImage = 5 * 1024 * 1024

	errCodeAccessDenied     = "AccessDeniedException"
	errCodeInvalidParameter = "InvalidParameterException"
	errCodeInvalidImage     = "InvalidImageFormatException"
)

var ErrInvalidCredentials = errors.New("invalid or missing AWS credentials")

// FaceDetectAPI is the part of the Rekognition client the detector uses.
type FaceDetectAPI interface {
	DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// Rekognition locates faces with the AWS DetectFaces API.
type Rekognition struct {
	client FaceDetectAPI
}

var _ Detector = (*Rekognition)(nil)

// NewRekognition builds a client from the default AWS credential chain.
func NewRekognition(ctx context.Context, region string) (*Rekognition, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewRekognitionWithClient(rekognition.NewFromConfig(awsCfg)), nil
}

func NewRekognitionWithClient(client FaceDetectAPI) *Rekognition {
	return &Rekognition{client: client}
}

func (r *Rekognition) Detect(ctx context.Context, frame *image.Gray) ([]image.Rectangle, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if buf.Len() > maxRekognitionImage {
		return nil, fmt.Errorf("frame encodes to %d bytes, limit %d", buf.Len(), maxRekognitionImage)
	}

	out, err := r.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image: &types.Image{Bytes: buf.Bytes()},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case errCodeAccessDenied:
				return nil, fmt.Errorf("detect faces: %w", ErrInvalidCredentials)
			case errCodeInvalidParameter, errCodeInvalidImage:
				return nil, fmt.Errorf("detect faces: rejected frame: %w", err)
			}
		}
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	bounds := frame.Bounds()
	rects := make([]image.Rectangle, 0, len(out.FaceDetails))
	for _, fd := range out.FaceDetails {
		if fd.BoundingBox == nil {
			continue
		}
		r := ratioToRect(fd.BoundingBox, bounds.Dx(), bounds.Dy())
		if !r.Empty() {
			rects = append(rects, r)
		}
	}
	return rects, nil
}

// ratioToRect converts a box given as fractions of the frame to pixels,
// clamped to the frame.
func ratioToRect(bb *types.BoundingBox, width, height int) image.Rectangle {
	left := float64(aws.ToFloat32(bb.Left))
	top := float64(aws.ToFloat32(bb.Top))
	w := float64(aws.ToFloat32(bb.Width))
	h := float64(aws.ToFloat32(bb.Height))

	r := image.Rect(
		int(left*float64(width)),
		int(top*float64(height)),
		int((left+w)*float64(width)),
		int((top+h)*float64(height)),
	)
	return r.Intersect(image.Rect(0, 0, width, height))
}

func (r *Rekognition) Close() error { return nil }
