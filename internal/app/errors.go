package service

import "errors"

// Service errors returned to callers. Check with errors.Is.
var (
	// ErrStudentNotFound indicates the referenced student does not exist.
	ErrStudentNotFound = errors.New("student not found")

	// ErrCarnetNotFound indicates the student has no carnet yet.
	ErrCarnetNotFound = errors.New("carnet not found")

	// ErrTempPhotoNotFound indicates the staged photo does not exist,
	// typically because it was already promoted or expired.
	ErrTempPhotoNotFound = errors.New("temporary photo not found")

	// ErrPhotoNotFound indicates a durable photo record is missing.
	ErrPhotoNotFound = errors.New("photo not found")

	// ErrUnknownSkill indicates an evaluation targets a skill id absent
	// from the taxonomy.
	ErrUnknownSkill = errors.New("unknown skill id")

	// ErrInvalidStatus indicates a status outside the known set.
	ErrInvalidStatus = errors.New("invalid skill status")

	// ErrInvalidPeriod indicates a period outside the fixed set.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrInvalidDocument indicates an export document that failed
	// validation before import.
	ErrInvalidDocument = errors.New("invalid export document")
)
