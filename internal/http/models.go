package http

import (
	"encoding/json"
	"time"

	"nodues/clearance/internal/clearance"
	"nodues/clearance/internal/db"
)

// Requests

type submitFormRequest struct {
	RegistrationNo string `json:"registration_no"`
	StudentName    string `json:"student_name"`
	ParentName     string `json:"parent_name"`
	AdmissionYear  string `json:"admission_year"`
	PassingYear    string `json:"passing_year"`
	SchoolID       string `json:"school_id"`
	CourseID       string `json:"course_id"`
	BranchID       string `json:"branch_id"`
	CountryCode    string `json:"country_code"`
	ContactNo      string `json:"contact_no"`
	PersonalEmail  string `json:"personal_email"`
	CollegeEmail   string `json:"college_email"`
}

func (req submitFormRequest) input() clearance.SubmitInput {
	return clearance.SubmitInput{
		RegistrationNo: req.RegistrationNo,
		StudentName:    req.StudentName,
		ParentName:     req.ParentName,
		AdmissionYear:  req.AdmissionYear,
		PassingYear:    req.PassingYear,
		SchoolID:       req.SchoolID,
		CourseID:       req.CourseID,
		BranchID:       req.BranchID,
		CountryCode:    req.CountryCode,
		ContactNo:      req.ContactNo,
		PersonalEmail:  req.PersonalEmail,
		CollegeEmail:   req.CollegeEmail,
	}
}

type otpRequest struct {
	RegistrationNo string `json:"registration_no"`
}

type otpVerifyRequest struct {
	RegistrationNo string `json:"registration_no"`
	Code           string `json:"code"`
}

type reapplyRequest struct {
	FormID       string            `json:"form_id"`
	Message      string            `json:"message"`
	Department   string            `json:"department"`
	EditedFields map[string]string `json:"edited_fields"`
}

type actionRequest struct {
	FormID     string `json:"form_id"`
	Department string `json:"department"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

type bulkActionRequest struct {
	FormIDs    []string `json:"form_ids"`
	Department string   `json:"department"`
	Action     string   `json:"action"`
	Reason     string   `json:"reason"`
}

type generateRequest struct {
	FormID string `json:"form_id"`
}

type bulkGenerateRequest struct {
	FormIDs []string `json:"form_ids"`
}

type verifyRequest struct {
	QRData string `json:"qr_data"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type editRequest struct {
	FormID       string            `json:"form_id"`
	EditedFields map[string]string `json:"edited_fields"`
}

type markReadRequest struct {
	FormID     string `json:"form_id"`
	Department string `json:"department"`
	ReaderType string `json:"reader_type"`
}

// Responses

type formResponse struct {
	ID                  string     `json:"id"`
	RegistrationNo      string     `json:"registration_no"`
	StudentName         string     `json:"student_name"`
	ParentName          string     `json:"parent_name,omitempty"`
	AdmissionYear       string     `json:"admission_year,omitempty"`
	PassingYear         string     `json:"passing_year,omitempty"`
	SchoolID            string     `json:"school_id"`
	School              string     `json:"school"`
	CourseID            string     `json:"course_id"`
	Course              string     `json:"course"`
	BranchID            string     `json:"branch_id"`
	Branch              string     `json:"branch"`
	CountryCode         string     `json:"country_code"`
	ContactNo           string     `json:"contact_no"`
	PersonalEmail       string     `json:"personal_email"`
	CollegeEmail        string     `json:"college_email"`
	Status              string     `json:"status"`
	ReapplicationCount  int32      `json:"reapplication_count"`
	IsReapplication     bool       `json:"is_reapplication"`
	LastReappliedAt     *time.Time `json:"last_reapplied_at,omitempty"`
	StudentReplyMessage *string    `json:"student_reply_message,omitempty"`
	CertificateURL      *string    `json:"certificate_url,omitempty"`
	TransactionID       *string    `json:"transaction_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type statusResponse struct {
	ID              string     `json:"id"`
	FormID          string     `json:"form_id"`
	Department      string     `json:"department"`
	Status          string     `json:"status"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	RejectionCount  int32      `json:"rejection_count"`
	ActionAt        *time.Time `json:"action_at,omitempty"`
	ActionByUserID  *string    `json:"action_by_user_id,omitempty"`
}

type submitResponse struct {
	Form     formResponse     `json:"form"`
	Statuses []statusResponse `json:"statuses"`
}

type lookupResponse struct {
	Exists bool    `json:"exists"`
	FormID *string `json:"form_id,omitempty"`
	Status *string `json:"status,omitempty"`
}

type checkStatusResponse struct {
	Form     formResponse     `json:"form"`
	Statuses []statusResponse `json:"statuses"`
	Stats    clearance.Stats  `json:"stats"`
}

type otpVerifyResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	FormID      string `json:"form_id"`
}

type reapplyResponse struct {
	ReapplicationNumber int32        `json:"reapplication_number"`
	ResetDepartments    []string     `json:"reset_departments"`
	Form                formResponse `json:"form"`
}

type reapplicationResponse struct {
	ID                  string          `json:"id"`
	ReapplicationNumber int32           `json:"reapplication_number"`
	Department          *string         `json:"department,omitempty"`
	StudentMessage      string          `json:"student_message"`
	EditedFields        json.RawMessage `json:"edited_fields,omitempty"`
	RejectedDepartments json.RawMessage `json:"rejected_departments,omitempty"`
	PreviousStatus      json.RawMessage `json:"previous_status,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

type actionResponse struct {
	Status     statusResponse  `json:"status"`
	Stats      clearance.Stats `json:"stats"`
	FormStatus string          `json:"form_status"`
}

type bulkActionSuccess struct {
	FormID     string `json:"form_id"`
	Status     string `json:"status"`
	FormStatus string `json:"form_status"`
}

type bulkActionResponse struct {
	Succeeded []bulkActionSuccess     `json:"succeeded"`
	Failed    []clearance.BulkFailure `json:"failed"`
}

type departmentFormResponse struct {
	Form   formResponse   `json:"form"`
	Status statusResponse `json:"status"`
}

type historyResponse struct {
	Status         statusResponse `json:"status"`
	RegistrationNo string         `json:"registration_no"`
	StudentName    string         `json:"student_name"`
}

type departmentCountsResponse struct {
	Department string `json:"department"`
	Pending    int64  `json:"pending"`
	Approved   int64  `json:"approved"`
	Rejected   int64  `json:"rejected"`
}

type unreadThreadResponse struct {
	FormID         string    `json:"form_id"`
	Department     string    `json:"department"`
	RegistrationNo string    `json:"registration_no"`
	StudentName    string    `json:"student_name"`
	Unread         int64     `json:"unread"`
	LastMessageAt  time.Time `json:"last_message_at"`
}

type eligibilityResponse struct {
	CanGenerate    bool            `json:"can_generate"`
	Stats          clearance.Stats `json:"stats"`
	CertificateURL *string         `json:"certificate_url,omitempty"`
}

type threadFormResponse struct {
	ID             string `json:"id"`
	RegistrationNo string `json:"registration_no"`
	StudentName    string `json:"student_name"`
	Status         string `json:"status"`
}

type threadResponse struct {
	Form            threadFormResponse `json:"form"`
	Status          string             `json:"status"`
	RejectionReason *string            `json:"rejection_reason,omitempty"`
	Messages        []messageResponse  `json:"messages"`
}

type messageResponse struct {
	ID         string     `json:"id"`
	FormID     string     `json:"form_id"`
	Department string     `json:"department"`
	SenderType string     `json:"sender_type"`
	SenderID   string     `json:"sender_id"`
	SenderName string     `json:"sender_name"`
	Message    string     `json:"message"`
	IsRead     bool       `json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type markReadResponse struct {
	MarkedRead int64 `json:"marked_read"`
}

type catalogResponse struct {
	Schools     []schoolResponse           `json:"schools"`
	Courses     []courseResponse           `json:"courses"`
	Branches    []branchResponse           `json:"branches"`
	Departments []publicDepartmentResponse `json:"departments"`
}

type schoolResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DisplayOrder int32  `json:"display_order"`
}

type courseResponse struct {
	ID           string `json:"id"`
	SchoolID     string `json:"school_id"`
	Name         string `json:"name"`
	DisplayOrder int32  `json:"display_order"`
}

type branchResponse struct {
	ID           string `json:"id"`
	CourseID     string `json:"course_id"`
	Name         string `json:"name"`
	DisplayOrder int32  `json:"display_order"`
}

type publicDepartmentResponse struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	DisplayOrder int32  `json:"display_order"`
}

type editEligibilityResponse struct {
	CanEdit             bool     `json:"can_edit"`
	CanReapply          bool     `json:"can_reapply"`
	Reason              string   `json:"reason"`
	FormStatus          string   `json:"form_status"`
	ReapplicationCount  int32    `json:"reapplication_count"`
	ReapplicationLimit  int      `json:"reapplication_limit"`
	RejectedDepartments []string `json:"rejected_departments"`
	EditableFields      []string `json:"editable_fields"`
}

type editResponse struct {
	Form          formResponse `json:"form"`
	UpdatedFields []string     `json:"updated_fields"`
}

type studentCertificateResponse struct {
	FormID              string     `json:"form_id"`
	RegistrationNo      string     `json:"registration_no"`
	StudentName         string     `json:"student_name"`
	CertificateURL      string     `json:"certificate_url"`
	TransactionID       *string    `json:"transaction_id,omitempty"`
	BlockchainHash      *string    `json:"blockchain_hash,omitempty"`
	BlockchainTimestamp *time.Time `json:"blockchain_timestamp,omitempty"`
}

type formDetailResponse struct {
	Form           formResponse            `json:"form"`
	Statuses       []statusResponse        `json:"statuses"`
	Stats          clearance.Stats         `json:"stats"`
	Reapplications []reapplicationResponse `json:"reapplications"`
}

type formCountsResponse struct {
	Total        int64 `json:"total"`
	Pending      int64 `json:"pending"`
	InProgress   int64 `json:"in_progress"`
	Completed    int64 `json:"completed"`
	Rejected     int64 `json:"rejected"`
	Reapplied    int64 `json:"reapplied"`
	Certificates int64 `json:"certificates"`
}

type departmentReportResponse struct {
	Department         string  `json:"department"`
	Total              int64   `json:"total"`
	Pending            int64   `json:"pending"`
	Approved           int64   `json:"approved"`
	Rejected           int64   `json:"rejected"`
	ApprovalRate       float64 `json:"approval_rate"`
	RejectionRate      float64 `json:"rejection_rate"`
	AvgResponseSeconds float64 `json:"avg_response_seconds"`
}

type adminStatsResponse struct {
	Forms          formCountsResponse         `json:"forms"`
	Departments    []departmentReportResponse `json:"departments"`
	RecentActivity []historyResponse          `json:"recent_activity"`
	PendingAlerts  []historyResponse          `json:"pending_alerts"`
}

type dashboardRowResponse struct {
	Form     formResponse     `json:"form"`
	Statuses []statusResponse `json:"statuses"`
	Stats    clearance.Stats  `json:"stats"`
}

type dashboardResponse struct {
	Forms      []dashboardRowResponse `json:"forms"`
	Total      int64                  `json:"total"`
	Page       int                    `json:"page"`
	Limit      int                    `json:"limit"`
	TotalPages int                    `json:"total_pages"`
}

type dailyCountsResponse struct {
	Day        string `json:"day"`
	Pending    int64  `json:"pending"`
	InProgress int64  `json:"in_progress"`
	Completed  int64  `json:"completed"`
	Rejected   int64  `json:"rejected"`
}

type reportResponse struct {
	Type        string                     `json:"type"`
	From        time.Time                  `json:"from"`
	To          time.Time                  `json:"to"`
	Departments []departmentReportResponse `json:"departments,omitempty"`
	Days        []dailyCountsResponse      `json:"days,omitempty"`
	Pending     []historyResponse          `json:"pending,omitempty"`
}

// Mapping

func mapForm(form db.Form) formResponse {
	return formResponse{
		ID:                  form.ID,
		RegistrationNo:      form.RegistrationNo,
		StudentName:         form.StudentName,
		ParentName:          form.ParentName,
		AdmissionYear:       form.AdmissionYear,
		PassingYear:         form.PassingYear,
		SchoolID:            form.SchoolID,
		School:              form.School,
		CourseID:            form.CourseID,
		Course:              form.Course,
		BranchID:            form.BranchID,
		Branch:              form.Branch,
		CountryCode:         form.CountryCode,
		ContactNo:           form.ContactNo,
		PersonalEmail:       form.PersonalEmail,
		CollegeEmail:        form.CollegeEmail,
		Status:              string(form.Status),
		ReapplicationCount:  form.ReapplicationCount,
		IsReapplication:     form.IsReapplication,
		LastReappliedAt:     form.LastReappliedAt,
		StudentReplyMessage: form.StudentReplyMessage,
		CertificateURL:      form.CertificateURL,
		TransactionID:       form.BlockchainTx,
		CreatedAt:           form.CreatedAt,
		UpdatedAt:           form.UpdatedAt,
	}
}

func mapStatus(st db.DepartmentStatus) statusResponse {
	return statusResponse{
		ID:              st.ID,
		FormID:          st.FormID,
		Department:      st.DepartmentName,
		Status:          string(st.Status),
		RejectionReason: st.RejectionReason,
		RejectionCount:  st.RejectionCount,
		ActionAt:        st.ActionAt,
		ActionByUserID:  st.ActionByUserID,
	}
}

func mapStatuses(statuses []db.DepartmentStatus) []statusResponse {
	out := make([]statusResponse, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, mapStatus(st))
	}
	return out
}

func mapReapplication(r db.Reapplication) reapplicationResponse {
	return reapplicationResponse{
		ID:                  r.ID,
		ReapplicationNumber: r.ReapplicationNumber,
		Department:          r.DepartmentName,
		StudentMessage:      r.StudentMessage,
		EditedFields:        r.EditedFields,
		RejectedDepartments: r.RejectedDepartments,
		PreviousStatus:      r.PreviousStatus,
		CreatedAt:           r.CreatedAt,
	}
}

func mapMessage(m db.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		FormID:     m.FormID,
		Department: m.DepartmentName,
		SenderType: string(m.SenderType),
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Message:    m.Message,
		IsRead:     m.IsRead,
		ReadAt:     m.ReadAt,
		CreatedAt:  m.CreatedAt,
	}
}

func mapHistoryRows(rows []db.ActionHistoryRow) []historyResponse {
	out := make([]historyResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyResponse{
			Status:         mapStatus(row.Status),
			RegistrationNo: row.RegistrationNo,
			StudentName:    row.StudentName,
		})
	}
	return out
}

func mapDepartmentReports(rows []clearance.DepartmentReport) []departmentReportResponse {
	out := make([]departmentReportResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, departmentReportResponse{
			Department:         r.DepartmentName,
			Total:              r.Total,
			Pending:            r.Pending,
			Approved:           r.Approved,
			Rejected:           r.Rejected,
			ApprovalRate:       r.ApprovalRate,
			RejectionRate:      r.RejectionRate,
			AvgResponseSeconds: r.AvgResponseSeconds,
		})
	}
	return out
}

func mapCatalog(c clearance.Catalog) catalogResponse {
	resp := catalogResponse{
		Schools:     make([]schoolResponse, 0, len(c.Schools)),
		Courses:     make([]courseResponse, 0, len(c.Courses)),
		Branches:    make([]branchResponse, 0, len(c.Branches)),
		Departments: make([]publicDepartmentResponse, 0, len(c.Departments)),
	}
	for _, sc := range c.Schools {
		resp.Schools = append(resp.Schools, schoolResponse{ID: sc.ID, Name: sc.Name, DisplayOrder: sc.DisplayOrder})
	}
	for _, co := range c.Courses {
		resp.Courses = append(resp.Courses, courseResponse{ID: co.ID, SchoolID: co.SchoolID, Name: co.Name, DisplayOrder: co.DisplayOrder})
	}
	for _, b := range c.Branches {
		resp.Branches = append(resp.Branches, branchResponse{ID: b.ID, CourseID: b.CourseID, Name: b.Name, DisplayOrder: b.DisplayOrder})
	}
	for _, d := range c.Departments {
		resp.Departments = append(resp.Departments, publicDepartmentResponse{Name: d.Name, DisplayName: d.DisplayName, DisplayOrder: d.DisplayOrder})
	}
	return resp
}
