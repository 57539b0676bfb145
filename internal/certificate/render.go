package certificate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"nodues/clearance/internal/db"
)

const qrImageName = "verification-qr"

// Render lays out the clearance certificate as a single A4 page with the verification QR code.
func Render(form db.Form, statuses []db.DepartmentStatus, payload QRPayload) ([]byte, error) {
	qrData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode qr payload: %w", err)
	}
	qrPNG, err := qrcode.Encode(string(qrData), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qr image: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("No Dues Certificate "+form.RegistrationNo, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, "JECRC UNIVERSITY", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 6, "Office of the Registrar", "", 1, "C", false, 0, "")
	pdf.SetDrawColor(40, 90, 160)
	pdf.SetLineWidth(0.6)
	pdf.Line(20, pdf.GetY()+2, 190, pdf.GetY()+2)
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "NO DUES CERTIFICATE", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 11)
	pdf.MultiCell(0, 6, tr(fmt.Sprintf(
		"This is to certify that %s (Registration No. %s) of %s, %s, %s has obtained clearance from every department listed below and has no outstanding dues with the university.",
		form.StudentName, form.RegistrationNo, form.School, form.Course, form.Branch,
	)), "", "J", false)
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(40, 90, 160)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(90, 8, "DEPARTMENT", "1", 0, "L", true, 0, "")
	pdf.CellFormat(35, 8, "STATUS", "1", 0, "C", true, 0, "")
	pdf.CellFormat(45, 8, "CLEARED ON", "1", 1, "C", true, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "", 10)
	for _, st := range statuses {
		cleared := "-"
		if st.ActionAt != nil {
			cleared = st.ActionAt.UTC().Format("02 Jan 2006")
		}
		pdf.CellFormat(90, 7, tr(st.DepartmentName), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 7, string(st.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 7, cleared, "1", 1, "C", false, 0, "")
	}
	pdf.Ln(8)

	top := pdf.GetY()
	imageOpts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader(qrImageName, imageOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions(qrImageName, 20, top, 40, 40, false, imageOpts, 0, "")

	pdf.SetXY(66, top+2)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(0, 6, "Verification", "", 2, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 5, "Transaction: "+payload.TxID, "", 2, "L", false, 0, "")
	pdf.CellFormat(0, 5, fmt.Sprintf("Block: %d", payload.Block), "", 2, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Issued: "+payload.Issued, "", 2, "L", false, 0, "")
	pdf.MultiCell(124, 5, "Hash: "+payload.Hash, "", "L", false)
	pdf.SetX(66)
	pdf.CellFormat(0, 5, "Verify at "+payload.VerifyURL, "", 2, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
