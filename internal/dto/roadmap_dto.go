package dto

// SelectRoadmapRequest is the body of POST /roadmap/select.
type SelectRoadmapRequest struct {
	RoadmapID string `json:"roadmapId" validate:"required"`
}

// RegenerateCourseRequest is the body of POST /roadmap/courses/regenerate.
type RegenerateCourseRequest struct {
	RoadmapID string `json:"roadmapId" validate:"required"`
	Order     *int   `json:"order" validate:"required,min=1"`
	Reason    string `json:"reason" validate:"max=500"`
}

// CompleteCourseForm holds the non-file fields of the multipart completion form.
type CompleteCourseForm struct {
	RoadmapID string `form:"roadmapId" validate:"required"`
	CourseID  string `form:"courseId" validate:"required"`
	Note      string `form:"note" validate:"max=2000"`
}

// PreferencesRequest is the body of PUT /roadmap/preferences.
type PreferencesRequest struct {
	View string `json:"view" validate:"required,oneof=single multi"`
}
