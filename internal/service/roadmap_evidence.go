package service

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

const defaultEvidenceMaxBytes = 10 * 1024 * 1024

// EvidenceInspector validates completion evidence before it is forwarded upstream.
type EvidenceInspector struct {
	maxSize int64
}

// NewEvidenceInspector builds an inspector with a size limit in megabytes.
func NewEvidenceInspector(maxSizeMB int) *EvidenceInspector {
	maxSize := int64(maxSizeMB) * 1024 * 1024
	if maxSize <= 0 {
		maxSize = defaultEvidenceMaxBytes
	}
	return &EvidenceInspector{maxSize: maxSize}
}

// Inspect reads the evidence, sniffs its MIME type and returns the upload payload.
func (i *EvidenceInspector) Inspect(name string, reader io.Reader) (*careerapi.EvidenceUpload, error) {
	if reader == nil {
		return nil, invalidArgument("evidence content is required")
	}

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(reader, i.maxSize+1)); err != nil {
		return nil, fmt.Errorf("read evidence: %w", err)
	}
	if int64(buf.Len()) > i.maxSize {
		return nil, ErrEvidenceTooLarge
	}
	if buf.Len() == 0 {
		return nil, invalidArgument("evidence file is empty")
	}

	detected := mimetype.Detect(buf.Bytes())
	if !evidenceTypeAllowed(detected) {
		return nil, fmt.Errorf("%w: %s", ErrEvidenceTypeNotAllowed, detected.String())
	}

	return &careerapi.EvidenceUpload{
		Filename: sanitizeEvidenceName(name, detected.Extension()),
		MimeType: detected.String(),
		Content:  buf.Bytes(),
	}, nil
}

func evidenceTypeAllowed(detected *mimetype.MIME) bool {
	for _, allowed := range []string{"image/png", "image/jpeg", "image/gif", "image/webp", "application/pdf", "application/zip", "text/plain"} {
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}

func sanitizeEvidenceName(name, detectedExt string) string {
	name = filepath.Base(strings.TrimSpace(name))
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" || base == "." {
		base = fmt.Sprintf("evidence-%d", time.Now().Unix())
	}
	if ext == "" || ext == "." {
		ext = detectedExt
	}
	if ext == "" {
		ext = ".bin"
	}
	return base + ext
}
