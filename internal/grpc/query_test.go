package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"nodues/clearance/internal/clearance"
	"nodues/clearance/internal/db"
)

const (
	testToken  = "campus-token"
	testFormID = "55555555-5555-5555-5555-555555555555"
)

type fakeReader struct {
	forms map[string]db.Form
}

func (f *fakeReader) ClearanceStatus(_ context.Context, regNo string) (clearance.Evaluation, error) {
	for _, form := range f.forms {
		if form.RegistrationNo == regNo {
			statuses := []db.DepartmentStatus{
				{DepartmentName: "library", Status: db.ClearanceApproved},
				{DepartmentName: "hostel", Status: db.ClearancePending},
			}
			return clearance.Evaluation{Form: form, Statuses: statuses, Stats: clearance.Aggregate(statuses)}, nil
		}
	}
	return clearance.Evaluation{}, &clearance.Error{Code: clearance.ErrFormNotFound}
}

func (f *fakeReader) Form(_ context.Context, id string) (db.Form, error) {
	form, ok := f.forms[id]
	if !ok {
		return db.Form{}, pgx.ErrNoRows
	}
	return form, nil
}

func startServer(t *testing.T, reader Reader) *grpc.ClientConn {
	t.Helper()
	logger, _ := test.NewNullLogger()
	server, err := NewServer(testToken, reader, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	listener := bufconn.Listen(1024 * 1024)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func authed() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), ServiceTokenHeader, testToken)
}

func TestInterceptorRequiresToken(t *testing.T) {
	if _, err := NewServiceAuthUnaryInterceptor(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
	client := NewClearanceQueryClient(startServer(t, &fakeReader{}))

	_, err := client.GetClearanceStatus(context.Background(), "21BCON1234")
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	wrong := metadata.AppendToOutgoingContext(context.Background(), ServiceTokenHeader, "nope")
	_, err = client.GetClearanceStatus(wrong, "21BCON1234")
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestGetClearanceStatus(t *testing.T) {
	reader := &fakeReader{forms: map[string]db.Form{
		testFormID: {ID: testFormID, RegistrationNo: "21BCON1234", StudentName: "Asha", Status: db.FormStatusInProgress},
	}}
	client := NewClearanceQueryClient(startServer(t, reader))

	out, err := client.GetClearanceStatus(authed(), "21BCON1234")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	fields := out.GetFields()
	if fields["status"].GetStringValue() != "in_progress" || fields["approved"].GetNumberValue() != 1 || fields["pending"].GetNumberValue() != 1 {
		t.Fatalf("unexpected response %v", out)
	}
	if len(fields["departments"].GetListValue().GetValues()) != 2 {
		t.Fatalf("expected two departments, got %v", fields["departments"])
	}

	_, err = client.GetClearanceStatus(authed(), "99XX0000")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = client.GetClearanceStatus(authed(), " ")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestGetCertificate(t *testing.T) {
	url := "https://cdn.example.edu/certificates/a.pdf"
	tx := "JECRC-2025-ABCDE-12345678"
	pendingID := "66666666-6666-6666-6666-666666666666"
	reader := &fakeReader{forms: map[string]db.Form{
		testFormID: {ID: testFormID, RegistrationNo: "21BCON1234", CertificateURL: &url, BlockchainTx: &tx},
		pendingID:  {ID: pendingID, RegistrationNo: "21BCON5678"},
	}}
	client := NewClearanceQueryClient(startServer(t, reader))

	out, err := client.GetCertificate(authed(), testFormID)
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	if out.GetFields()["certificate_url"].GetStringValue() != url || out.GetFields()["transaction_id"].GetStringValue() != tx {
		t.Fatalf("unexpected response %v", out)
	}

	cases := map[string]codes.Code{
		pendingID:                              codes.FailedPrecondition,
		"77777777-7777-7777-7777-777777777777": codes.NotFound,
		"not-a-uuid":                           codes.InvalidArgument,
	}
	for id, expected := range cases {
		if _, err := client.GetCertificate(authed(), id); status.Code(err) != expected {
			t.Fatalf("%s: expected %v got %v", id, expected, err)
		}
	}
}

func TestHealthIsOpen(t *testing.T) {
	conn := startServer(t, &fakeReader{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected serving, got %v", resp.GetStatus())
	}
}
