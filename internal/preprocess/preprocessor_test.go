package preprocess

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/fedutinova/timegrid/internal/common"
)

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) Recognize(ctx context.Context, imageBytes []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testDOCX(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var doc strings.Builder
	doc.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		doc.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	doc.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	ct, err := zw.Create("[Content_Types].xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	_, _ = ct.Write([]byte(`<?xml version="1.0"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`))
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := f.Write([]byte(doc.String())); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestPreprocess_ImageRunsOCRAndNormalizes(t *testing.T) {
	ocr := &fakeOCR{text: "Monday 09:00-10:00 Maths"}
	p := New(ocr)

	artifact, err := p.Preprocess(context.Background(), testPNG(t), "image/png", "grid.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if artifact.Text != "Monday 09:00-10:00 Maths" {
		t.Fatalf("OCR text missing: %q", artifact.Text)
	}
	if !artifact.HasImage() {
		t.Fatalf("image evidence missing")
	}
	if artifact.MimeType != "image/png" {
		t.Fatalf("expected normalized PNG mime, got %s", artifact.MimeType)
	}
	if ocr.calls != 1 {
		t.Fatalf("OCR not called")
	}
}

func TestPreprocess_OCRFailureDegradesToImageOnly(t *testing.T) {
	ocr := &fakeOCR{err: errors.New("tesseract crashed")}
	p := New(ocr)

	artifact, err := p.Preprocess(context.Background(), testPNG(t), "image/png", "grid.png")
	if err != nil {
		t.Fatalf("OCR failure must not abort the pipeline: %v", err)
	}
	if artifact.Text != "" {
		t.Fatalf("expected no text evidence")
	}
	if !artifact.HasImage() {
		t.Fatalf("image evidence must survive OCR failure")
	}
}

func TestPreprocess_DOCXExtractsTextOnly(t *testing.T) {
	p := New(&fakeOCR{})
	data := testDOCX(t, "Monday", "09:00-10:00 Maths", "10:00-11:00 English")

	artifact, err := p.Preprocess(context.Background(), data, docxMime, "timetable.docx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.HasImage() {
		t.Fatalf("DOCX must not carry image evidence")
	}
	for _, want := range []string{"Monday", "Maths", "English"} {
		if !strings.Contains(artifact.Text, want) {
			t.Fatalf("missing %q in extracted text: %q", want, artifact.Text)
		}
	}
}

func TestPreprocess_UnsupportedTypeRejected(t *testing.T) {
	p := New(&fakeOCR{})

	_, err := p.Preprocess(context.Background(), []byte("#!/bin/sh\necho hi"), "text/x-shellscript", "run.sh")
	if err == nil {
		t.Fatalf("expected unsupported type error")
	}
	if common.KindOf(err) != common.KindUnsupportedType {
		t.Fatalf("expected unsupported_type kind, got %s", common.KindOf(err))
	}
}

func TestExtractDOCXText_MissingDocumentXML(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, _ := zw.Create("other.xml")
	_, _ = f.Write([]byte("<x/>"))
	_ = zw.Close()

	if _, err := extractDOCXText(buf.Bytes()); err == nil {
		t.Fatalf("expected error for archive without document.xml")
	}
}

func TestNormalizeToPNG_RejectsGarbage(t *testing.T) {
	if _, ok := normalizeToPNG([]byte("not an image")); ok {
		t.Fatalf("expected decode failure")
	}
}
