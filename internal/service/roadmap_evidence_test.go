package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestEvidenceInspectorAcceptsImages(t *testing.T) {
	inspector := NewEvidenceInspector(1)

	upload, err := inspector.Inspect("../../Screenshot 1.PNG", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	require.Equal(t, "image/png", upload.MimeType)
	require.NotContains(t, upload.Filename, "/")
	require.Equal(t, pngHeader, upload.Content)
}

func TestEvidenceInspectorRejectsOversizeAndEmpty(t *testing.T) {
	inspector := NewEvidenceInspector(1)

	big := strings.Repeat("a", 1024*1024+1)
	_, err := inspector.Inspect("big.txt", strings.NewReader(big))
	require.ErrorIs(t, err, ErrEvidenceTooLarge)

	_, err = inspector.Inspect("empty.txt", strings.NewReader(""))
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = inspector.Inspect("none", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

type countingLookup struct {
	calls int
}

func (l *countingLookup) CourseDetail(_ context.Context, courseID string) (careerapi.CourseDetail, error) {
	l.calls++
	return careerapi.CourseDetail{ID: careerapi.FlexString(courseID), Title: "Course " + courseID}, nil
}

func TestCourseDetailServiceCachesLookups(t *testing.T) {
	details := NewCourseDetailService(time.Minute, zerolog.Nop())
	lookup := &countingLookup{}

	first, err := details.Get(t.Context(), lookup, "go-101")
	require.NoError(t, err)
	second, err := details.Get(t.Context(), lookup, "go-101")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, lookup.calls)

	details.Forget("go-101")
	_, err = details.Get(t.Context(), lookup, "go-101")
	require.NoError(t, err)
	require.Equal(t, 2, lookup.calls)
}
