package db

import (
	"encoding/json"
	"time"
)

type FormStatus string

const (
	FormStatusPending    FormStatus = "pending"
	FormStatusInProgress FormStatus = "in_progress"
	FormStatusCompleted  FormStatus = "completed"
	FormStatusRejected   FormStatus = "rejected"
)

type ClearanceStatus string

const (
	ClearancePending  ClearanceStatus = "pending"
	ClearanceApproved ClearanceStatus = "approved"
	ClearanceRejected ClearanceStatus = "rejected"
)

type SenderType string

const (
	SenderStudent    SenderType = "student"
	SenderDepartment SenderType = "department"
)

type School struct {
	ID           string
	Name         string
	IsActive     bool
	DisplayOrder int32
}

type Course struct {
	ID           string
	SchoolID     string
	Name         string
	IsActive     bool
	DisplayOrder int32
}

type Branch struct {
	ID           string
	CourseID     string
	Name         string
	IsActive     bool
	DisplayOrder int32
}

type Department struct {
	ID               string
	Name             string
	DisplayName      string
	Email            *string
	DisplayOrder     int32
	IsActive         bool
	AllowedSchoolIDs []string
	AllowedCourseIDs []string
	AllowedBranchIDs []string
}

type Profile struct {
	ID                    string
	Email                 string
	FullName              string
	Role                  string
	AssignedDepartmentIDs []string
	IsActive              bool
}

type Form struct {
	ID                        string
	RegistrationNo            string
	StudentName               string
	ParentName                string
	AdmissionYear             string
	PassingYear               string
	SchoolID                  string
	CourseID                  string
	BranchID                  string
	School                    string
	Course                    string
	Branch                    string
	CountryCode               string
	ContactNo                 string
	PersonalEmail             string
	CollegeEmail              string
	Status                    FormStatus
	ReapplicationCount        int32
	MaxReapplicationsOverride *int32
	IsReapplication           bool
	LastReappliedAt           *time.Time
	StudentReplyMessage       *string
	CertificateGenerating     bool
	FinalCertificateGenerated bool
	CertificateURL            *string
	BlockchainHash            *string
	BlockchainTx              *string
	BlockchainBlock           *int64
	BlockchainTimestamp       *time.Time
	BlockchainVerified        bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

type DepartmentStatus struct {
	ID              string
	FormID          string
	DepartmentName  string
	Status          ClearanceStatus
	RejectionReason *string
	RejectionCount  int32
	ActionAt        *time.Time
	ActionByUserID  *string
	CreatedAt       time.Time
}

type Reapplication struct {
	ID                  string
	FormID              string
	ReapplicationNumber int32
	DepartmentName      *string
	StudentMessage      string
	EditedFields        json.RawMessage
	RejectedDepartments json.RawMessage
	PreviousStatus      json.RawMessage
	CreatedAt           time.Time
}

type Message struct {
	ID             string
	FormID         string
	DepartmentName string
	SenderType     SenderType
	SenderID       string
	SenderName     string
	Message        string
	IsRead         bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}
