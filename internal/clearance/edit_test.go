package clearance

import (
	"context"
	"strings"
	"testing"
	"time"

	"nodues/clearance/internal/auth"
	"nodues/clearance/internal/authz"
	"nodues/clearance/internal/db"
)

func TestCheckEditEligibility(t *testing.T) {
	one := int32(1)
	rejected := []db.DepartmentStatus{
		{DepartmentName: "library", Status: db.ClearanceRejected},
		{DepartmentName: "hostel", Status: db.ClearanceApproved},
	}
	pending := []db.DepartmentStatus{{DepartmentName: "library", Status: db.ClearancePending}}
	approved := []db.DepartmentStatus{{DepartmentName: "library", Status: db.ClearanceApproved}}

	cases := map[string]struct {
		form       db.Form
		statuses   []db.DepartmentStatus
		canEdit    bool
		canReapply bool
		reason     string
	}{
		"fresh form":       {db.Form{Status: db.FormStatusPending}, pending, true, false, EditReasonPendingReview},
		"rejected":         {db.Form{Status: db.FormStatusRejected}, rejected, true, true, EditReasonRejected},
		"in progress":      {db.Form{Status: db.FormStatusInProgress}, approved, false, false, EditReasonInReview},
		"completed":        {db.Form{Status: db.FormStatusCompleted}, approved, false, false, EditReasonCompleted},
		"limit reached":    {db.Form{Status: db.FormStatusRejected, ReapplicationCount: 3}, rejected, false, false, EditReasonLimitReached},
		"override reached": {db.Form{Status: db.FormStatusRejected, ReapplicationCount: 1, MaxReapplicationsOverride: &one}, rejected, false, false, EditReasonLimitReached},
	}
	for name, tc := range cases {
		e := CheckEditEligibility(tc.form, tc.statuses, 3)
		if e.CanEdit != tc.canEdit || e.CanReapply != tc.canReapply || e.Reason != tc.reason {
			t.Fatalf("%s: unexpected eligibility %+v", name, e)
		}
	}

	e := CheckEditEligibility(db.Form{Status: db.FormStatusRejected, ReapplicationCount: 1}, rejected, 0)
	if e.ReapplicationLimit != DefaultMaxReapplications || strings.Join(e.RejectedDepartments, ",") != "library" {
		t.Fatalf("unexpected defaults %+v", e)
	}
}

func TestPlanEditOrder(t *testing.T) {
	form := db.Form{ID: formID, Status: db.FormStatusPending, AdmissionYear: "2021", PassingYear: "2025"}
	cases := map[string]struct {
		form   db.Form
		fields map[string]string
		code   string
	}{
		"completed first": {
			form:   db.Form{Status: db.FormStatusCompleted},
			fields: nil,
			code:   ErrFormCompleted,
		},
		"nothing to edit": {
			form: form,
			code: ErrValidationFailed,
		},
		"protected field": {
			form:   form,
			fields: map[string]string{"registration_no": "22BCS0001"},
			code:   ErrProtectedField,
		},
		"years out of order": {
			form:   form,
			fields: map[string]string{"passing_year": "2019"},
			code:   ErrValidationFailed,
		},
		"edits checked before state": {
			form:   db.Form{Status: db.FormStatusInProgress},
			fields: map[string]string{"contact_no": "12"},
			code:   ErrValidationFailed,
		},
		"in progress": {
			form:   db.Form{Status: db.FormStatusInProgress},
			fields: map[string]string{"contact_no": "9876543210"},
			code:   ErrFormNotEditable,
		},
		"limit reached": {
			form:   db.Form{Status: db.FormStatusRejected, ReapplicationCount: 5},
			fields: map[string]string{"contact_no": "9876543210"},
			code:   ErrReapplicationLimit,
		},
	}
	for name, tc := range cases {
		_, err := planEdit(tc.form, tc.fields, 5)
		opErr, ok := AsError(err)
		if !ok || opErr.Code != tc.code {
			t.Fatalf("%s: expected %s, got %v", name, tc.code, err)
		}
	}

	edits, err := planEdit(form, map[string]string{"personal_email": " Asha@Example.COM "}, 5)
	if err != nil {
		t.Fatalf("expected edit to pass: %v", err)
	}
	if edits["personal_email"] != "asha@example.com" {
		t.Fatalf("expected normalized email, got %q", edits["personal_email"])
	}
}

func TestEditFormValidatesBeforeTouchingStore(t *testing.T) {
	student := authz.Principal{Role: auth.UserTypeStudent, RegistrationNo: "21BCON1234"}
	_, err := EditForm(context.Background(), nil, student, EditInput{FormID: "nope"}, 5)
	expectCode(t, err, ErrValidationFailed)

	_, err = EditEligibilityFor(context.Background(), nil, student, "", 5)
	expectCode(t, err, ErrValidationFailed)

	_, err = CertificateFor(context.Background(), nil, student, "nope")
	expectCode(t, err, ErrValidationFailed)
}

func TestEditableFields(t *testing.T) {
	fields := EditableFields()
	if len(fields) != len(editableFields) {
		t.Fatalf("expected %d fields, got %v", len(editableFields), fields)
	}
	for _, name := range fields {
		if protectedFields[name] {
			t.Fatalf("%s is both editable and protected", name)
		}
	}
	if fields[0] != "admission_year" {
		t.Fatalf("expected sorted fields, got %v", fields)
	}
}

func TestFormDetailForStaffAccess(t *testing.T) {
	student := authz.Principal{Role: auth.UserTypeStudent, RegistrationNo: "21BCON1234"}
	_, err := FormDetailForStaff(context.Background(), nil, student, formID)
	expectCode(t, err, ErrForbidden)

	staff := authz.Principal{Role: auth.UserTypeDepartment, DepartmentNames: []string{"library"}}
	_, err = FormDetailForStaff(context.Background(), nil, staff, "abc")
	expectCode(t, err, ErrValidationFailed)

	statuses := []db.DepartmentStatus{{DepartmentName: "Library"}, {DepartmentName: "hostel"}}
	if !visibleToDepartments(staff, statuses) {
		t.Fatal("expected library staff to see the form")
	}
	other := authz.Principal{Role: auth.UserTypeDepartment, DepartmentNames: []string{"accounts"}}
	if visibleToDepartments(other, statuses) {
		t.Fatal("expected accounts staff to be refused")
	}
}

func TestDepartmentReports(t *testing.T) {
	reports := departmentReports([]db.DepartmentPerformance{
		{DepartmentName: "library", Pending: 1, Approved: 1, Rejected: 1},
		{DepartmentName: "hostel"},
	})
	if len(reports) != 2 {
		t.Fatalf("expected two reports, got %d", len(reports))
	}
	if lib := reports[0]; lib.Total != 3 || lib.ApprovalRate != 33.33 || lib.RejectionRate != 33.33 {
		t.Fatalf("unexpected library report %+v", lib)
	}
	if hostel := reports[1]; hostel.Total != 0 || hostel.ApprovalRate != 0 {
		t.Fatalf("unexpected empty report %+v", hostel)
	}
}

func TestReportRange(t *testing.T) {
	at := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)

	from, to, err := reportRange(ReportInput{}, at)
	if err != nil || !to.Equal(at) || !from.Equal(at.Add(-30*24*time.Hour)) {
		t.Fatalf("unexpected default range %s %s %v", from, to, err)
	}

	from, to, err = reportRange(ReportInput{StartDate: "2025-03-01", EndDate: "2025-03-10"}, at)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if !from.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected end date to be inclusive, got %s %s", from, to)
	}

	cases := map[string]struct {
		in    ReportInput
		field string
		rule  string
	}{
		"bad start":        {ReportInput{StartDate: "03/01/2025"}, "start_date", "date"},
		"bad end":          {ReportInput{EndDate: "2025-13-01"}, "end_date", "date"},
		"end before start": {ReportInput{StartDate: "2025-03-10", EndDate: "2025-03-01"}, "end_date", "gtefield"},
	}
	for name, tc := range cases {
		_, _, err := reportRange(tc.in, at)
		opErr := expectCode(t, err, ErrValidationFailed)
		if opErr.Fields[tc.field] != tc.rule {
			t.Fatalf("%s: expected %s=%s, got %v", name, tc.field, tc.rule, opErr.Fields)
		}
	}
}

func TestDashboardInputNormalize(t *testing.T) {
	in := DashboardInput{Status: " Rejected ", Page: -3, Limit: 1000}
	status, err := in.normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if status == nil || *status != db.FormStatusRejected || in.Page != 1 || in.Limit != maxDashboardLimit {
		t.Fatalf("unexpected input %+v status %v", in, status)
	}

	in = DashboardInput{}
	if status, err := in.normalize(); err != nil || status != nil || in.Limit != defaultDashboardLimit {
		t.Fatalf("unexpected defaults %+v %v %v", in, status, err)
	}

	in = DashboardInput{Status: "archived"}
	_, err = in.normalize()
	expectCode(t, err, ErrValidationFailed)
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	staff := authz.Principal{Role: auth.UserTypeDepartment, DepartmentNames: []string{"library"}}
	ctx := context.Background()
	_, err := LoadAdminStats(ctx, nil, staff, time.Now())
	expectCode(t, err, ErrForbidden)
	_, err = LoadDashboard(ctx, nil, staff, DashboardInput{})
	expectCode(t, err, ErrForbidden)
	_, err = BuildReport(ctx, nil, staff, ReportInput{Type: ReportPendingAnalysis}, time.Now())
	expectCode(t, err, ErrForbidden)

	admin := authz.Principal{Role: auth.UserTypeAdmin}
	_, err = BuildReport(ctx, nil, admin, ReportInput{Type: "revenue"}, time.Now())
	expectCode(t, err, ErrValidationFailed)
}
