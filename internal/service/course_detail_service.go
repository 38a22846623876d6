package service

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

// CourseLookup fetches a single course from the career API.
type CourseLookup interface {
	CourseDetail(ctx context.Context, courseID string) (careerapi.CourseDetail, error)
}

// CourseDetailService caches course lookups used to enrich roadmap steps.
// Course details are not user specific, so one instance is shared by all sessions.
type CourseDetailService struct {
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewCourseDetailService builds the shared course cache.
func NewCourseDetailService(ttl time.Duration, logger zerolog.Logger) *CourseDetailService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CourseDetailService{
		cache:  cache.New(ttl, 2*ttl),
		logger: logger.With().Str("component", "course_detail_service").Logger(),
	}
}

// Get returns the course, serving repeated lookups from memory.
func (s *CourseDetailService) Get(ctx context.Context, lookup CourseLookup, courseID string) (careerapi.CourseDetail, error) {
	if cached, ok := s.cache.Get(courseID); ok {
		return cached.(careerapi.CourseDetail), nil
	}
	detail, err := lookup.CourseDetail(ctx, courseID)
	if err != nil {
		return careerapi.CourseDetail{}, err
	}
	s.cache.SetDefault(courseID, detail)
	s.logger.Debug().Str("course_id", courseID).Msg("course detail cached")
	return detail, nil
}

// Forget drops a cached course.
func (s *CourseDetailService) Forget(courseID string) {
	s.cache.Delete(courseID)
}
