package models

import "github.com/shopspring/decimal"

// CourseOffering is a published course from the catalogue. Offerings
// are immutable once published and are copied by value into student
// records, so an enrollment keeps the price it was sold at.
type CourseOffering struct {
	CourseID string          `json:"courseId"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Info     string          `json:"info"`
	DueDate  Date            `json:"dueDate"`
}

// Catalogue is the single document holding all published offerings.
type Catalogue struct {
	Courses []CourseOffering `json:"courses"`
}

// CourseSummary is the derived pair a course selection produces. The
// two fields are always computed together; callers never observe a
// price that does not correspond to the due date next to it.
type CourseSummary struct {
	TotalPrice decimal.Decimal `json:"totalPrice"`
	DueDate    Date            `json:"dueDate"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
