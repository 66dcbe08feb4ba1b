package domain

import "errors"

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

// Job is one user-initiated request to produce a presentation.
type Job struct {
	ID        JobID
	Prompt    string
	Audiences []string

	Status JobStatus
	// Stage names the stage that failed when Status is JobStatusFailed.
	Stage string
	Error string

	SlidesTotal     int
	SlidesPublished int
	SlidesFailed    int

	CreatedAt Timestamp
	UpdatedAt Timestamp
}

// Clone returns a copy that shares no slices with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Audiences = append([]string(nil), j.Audiences...)
	return &out
}
