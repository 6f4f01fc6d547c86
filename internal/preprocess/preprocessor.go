package preprocess

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"log/slog"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/gabriel-vasile/mimetype"
	"github.com/otiai10/gosseract/v2"

	"github.com/fedutinova/timegrid/internal/common"
)

// ProcessedArtifact is the normalized evidence pair handed to the complexity
// router and the extraction backends.
type ProcessedArtifact struct {
	Text       string
	ImageBytes []byte
	MimeType   string
	Name       string
	Steps      []string
}

// HasImage reports whether image evidence is available for a vision backend.
func (a *ProcessedArtifact) HasImage() bool {
	return len(a.ImageBytes) > 0
}

// OCRClient runs text recognition over image bytes. Satisfied by the
// tesseract-backed client; tests substitute fakes.
type OCRClient interface {
	Recognize(ctx context.Context, imageBytes []byte) (string, error)
}

// TesseractOCR is the production OCR client.
type TesseractOCR struct{}

func (TesseractOCR) Recognize(ctx context.Context, imageBytes []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetImageFromBytes(imageBytes); err != nil {
		return "", common.E(common.KindOCR, "preprocess.ocr", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", common.E(common.KindOCR, "preprocess.ocr", err)
	}
	return text, nil
}

// Preprocessor normalizes an uploaded artifact into {text, image} evidence.
type Preprocessor struct {
	ocr OCRClient
}

func New(ocr OCRClient) *Preprocessor {
	if ocr == nil {
		ocr = TesseractOCR{}
	}
	return &Preprocessor{ocr: ocr}
}

const docxMime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Preprocess dispatches on MIME type:
//   - images: normalize to PNG, OCR best-effort
//   - PDF: text layer extracted, raw bytes kept as image evidence
//   - DOCX: text only
//
// OCR failure degrades to image-only evidence and never aborts the pipeline.
func (p *Preprocessor) Preprocess(ctx context.Context, data []byte, declaredMime, name string) (*ProcessedArtifact, error) {
	// trust content sniffing over the declared type, but only when it lands
	// on something this pipeline understands (DOCX can sniff as plain zip)
	mime := declaredMime
	if detected := mimetype.Detect(data); detected != nil {
		d := detected.String()
		if strings.HasPrefix(d, "image/") || d == "application/pdf" || d == docxMime {
			mime = d
		}
	}

	artifact := &ProcessedArtifact{MimeType: mime, Name: name}

	switch {
	case strings.HasPrefix(mime, "image/"):
		return p.preprocessImage(ctx, data, artifact)
	case mime == "application/pdf":
		return p.preprocessPDF(data, artifact)
	case mime == docxMime:
		return p.preprocessDOCX(data, artifact)
	default:
		return nil, common.Ef(common.KindUnsupportedType, "preprocess", "unsupported artifact type: %s", mime)
	}
}

func (p *Preprocessor) preprocessImage(ctx context.Context, data []byte, artifact *ProcessedArtifact) (*ProcessedArtifact, error) {
	artifact.ImageBytes = data
	artifact.Steps = append(artifact.Steps, "decoded")

	if normalized, ok := normalizeToPNG(data); ok {
		artifact.ImageBytes = normalized
		artifact.MimeType = "image/png"
		artifact.Steps = append(artifact.Steps, "normalized_png")
	} else {
		slog.Warn("image decode failed, keeping original bytes", "name", artifact.Name)
	}

	text, err := p.ocr.Recognize(ctx, artifact.ImageBytes)
	if err != nil {
		// best-effort: the vision backend can still work from pixels
		slog.Warn("OCR failed, continuing with image-only evidence", "name", artifact.Name, "error", err)
		return artifact, nil
	}
	artifact.Text = text
	artifact.Steps = append(artifact.Steps, "ocr")
	return artifact, nil
}

func (p *Preprocessor) preprocessPDF(data []byte, artifact *ProcessedArtifact) (*ProcessedArtifact, error) {
	// raw bytes retained so the vision backend can ingest the PDF directly
	artifact.ImageBytes = data
	artifact.MimeType = "application/pdf"

	text, err := extractPDFText(data)
	if err != nil {
		slog.Warn("PDF text extraction failed, continuing with raw bytes", "name", artifact.Name, "error", err)
		return artifact, nil
	}
	artifact.Text = text
	artifact.Steps = append(artifact.Steps, "pdf_text")
	return artifact, nil
}

func (p *Preprocessor) preprocessDOCX(data []byte, artifact *ProcessedArtifact) (*ProcessedArtifact, error) {
	text, err := extractDOCXText(data)
	if err != nil {
		return nil, common.E(common.KindUnsupportedType, "preprocess.docx", err)
	}
	artifact.Text = text
	artifact.MimeType = docxMime
	artifact.Steps = append(artifact.Steps, "docx_text")
	return artifact, nil
}

// normalizeToPNG re-encodes any decodable image as PNG.
func normalizeToPNG(data []byte) ([]byte, bool) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
