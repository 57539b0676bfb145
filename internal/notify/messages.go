package notify

import (
	"fmt"
	"html"
	"strings"
)

func esc(s string) string {
	return html.EscapeString(s)
}

func layout(title, body, actionURL, actionLabel string) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family:Arial,sans-serif;max-width:600px">`)
	b.WriteString("<h2>" + esc(title) + "</h2>")
	b.WriteString(body)
	if actionURL != "" {
		b.WriteString(fmt.Sprintf(`<p><a href="%s">%s</a></p>`, esc(actionURL), esc(actionLabel)))
	}
	b.WriteString(`<p style="color:#777;font-size:12px">No Dues Clearance System</p></div>`)
	return b.String()
}

type Submission struct {
	StudentName    string
	RegistrationNo string
	School         string
	Course         string
	Branch         string
	FormID         string
}

func NewSubmission(to []string, s Submission, appURL string) Message {
	body := fmt.Sprintf("<p>%s (%s) submitted a no dues form.</p><p>%s / %s / %s</p>",
		esc(s.StudentName), esc(s.RegistrationNo), esc(s.School), esc(s.Course), esc(s.Branch))
	return Message{
		To:      to,
		Subject: "New no dues application: " + s.RegistrationNo,
		Body:    layout("New application pending review", body, appURL+"/staff/student/"+s.FormID, "Review application"),
	}
}

func Rejection(to, studentName, registrationNo, department, reason, appURL string) Message {
	body := fmt.Sprintf("<p>Dear %s,</p><p>The %s department rejected your no dues application (%s).</p><p>Reason: %s</p><p>You can resolve the issue and reapply.</p>",
		esc(studentName), esc(department), esc(registrationNo), esc(reason))
	return Message{
		To:      []string{to},
		Subject: "No dues application rejected by " + department,
		Body:    layout("Application rejected", body, appURL+"/student/check-status?reg="+registrationNo, "Check status"),
	}
}

func CertificateReady(to []string, studentName, registrationNo, certificateURL string) Message {
	body := fmt.Sprintf("<p>Dear %s,</p><p>Every department has cleared your application (%s). Your no dues certificate is ready.</p>",
		esc(studentName), esc(registrationNo))
	return Message{
		To:      to,
		Subject: "Your no dues certificate is ready",
		Body:    layout("Certificate issued", body, certificateURL, "Download certificate"),
	}
}

func Reapplication(to []string, studentName, registrationNo string, number int32, message, formID, appURL string) Message {
	body := fmt.Sprintf("<p>%s (%s) reapplied (attempt %d).</p><p>Student message: %s</p>",
		esc(studentName), esc(registrationNo), number, esc(message))
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Reapplication #%d: %s", number, registrationNo),
		Body:    layout("Student reapplied", body, appURL+"/staff/student/"+formID, "Review application"),
	}
}

func OTPCode(to, code string, validFor string) Message {
	body := fmt.Sprintf("<p>Your verification code is <b>%s</b>.</p><p>It expires in %s.</p>", esc(code), esc(validFor))
	return Message{
		To:      []string{to},
		Subject: "No dues verification code",
		Body:    layout("Verification code", body, "", ""),
	}
}

func PendingReminder(to []string, department string, pending int64, appURL string) Message {
	body := fmt.Sprintf("<p>The %s department has <b>%d</b> no dues application(s) waiting for review.</p>",
		esc(department), pending)
	return Message{
		To:      to,
		Subject: fmt.Sprintf("%d pending no dues application(s)", pending),
		Body:    layout("Pending applications", body, appURL+"/staff/dashboard", "Open dashboard"),
	}
}
