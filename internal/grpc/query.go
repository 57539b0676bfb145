package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"nodues/clearance/internal/clearance"
	"nodues/clearance/internal/db"
)

const (
	ServiceName              = "nodues.clearance.v1.ClearanceQueryService"
	getClearanceStatusMethod = "/" + ServiceName + "/GetClearanceStatus"
	getCertificateMethod     = "/" + ServiceName + "/GetCertificate"
)

// Reader is what the query surface needs from storage.
type Reader interface {
	ClearanceStatus(ctx context.Context, registrationNo string) (clearance.Evaluation, error)
	Form(ctx context.Context, formID string) (db.Form, error)
}

type storeReader struct {
	store *db.Store
}

func NewStoreReader(store *db.Store) Reader {
	return &storeReader{store: store}
}

func (r *storeReader) ClearanceStatus(ctx context.Context, registrationNo string) (clearance.Evaluation, error) {
	return clearance.CheckStatus(ctx, r.store, registrationNo)
}

func (r *storeReader) Form(ctx context.Context, formID string) (db.Form, error) {
	return r.store.Queries.GetForm(ctx, formID)
}

type ClearanceQueryServer interface {
	GetClearanceStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	GetCertificate(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
}

type QueryServer struct {
	reader Reader
	logger logrus.FieldLogger
}

func NewQueryServer(reader Reader, logger logrus.FieldLogger) *QueryServer {
	return &QueryServer{reader: reader, logger: logger}
}

func (s *QueryServer) GetClearanceStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	regNo := strings.TrimSpace(req.GetValue())
	if regNo == "" {
		return nil, status.Error(codes.InvalidArgument, "registration_no required")
	}
	eval, err := s.reader.ClearanceStatus(ctx, regNo)
	if err != nil {
		return nil, s.toStatus(err, "clearance lookup failed")
	}
	departments := make([]interface{}, 0, len(eval.Statuses))
	for _, st := range eval.Statuses {
		departments = append(departments, map[string]interface{}{
			"department": st.DepartmentName,
			"status":     string(st.Status),
		})
	}
	fields := map[string]interface{}{
		"form_id":         eval.Form.ID,
		"registration_no": eval.Form.RegistrationNo,
		"student_name":    eval.Form.StudentName,
		"status":          string(eval.Form.Status),
		"total":           eval.Stats.Total,
		"approved":        eval.Stats.Approved,
		"rejected":        eval.Stats.Rejected,
		"pending":         eval.Stats.Pending,
		"can_generate":    eval.Stats.CanGenerate,
		"departments":     departments,
	}
	if eval.Form.CertificateURL != nil {
		fields["certificate_url"] = *eval.Form.CertificateURL
	}
	return newStruct(fields)
}

func (s *QueryServer) GetCertificate(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	formID := strings.TrimSpace(req.GetValue())
	if formID == "" {
		return nil, status.Error(codes.InvalidArgument, "form_id required")
	}
	if _, err := uuid.Parse(formID); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid form_id")
	}
	form, err := s.reader.Form(ctx, formID)
	if err != nil {
		return nil, s.toStatus(err, "certificate lookup failed")
	}
	if form.CertificateURL == nil {
		return nil, status.Error(codes.FailedPrecondition, "certificate_not_issued")
	}
	fields := map[string]interface{}{
		"form_id":         form.ID,
		"registration_no": form.RegistrationNo,
		"certificate_url": *form.CertificateURL,
	}
	if form.BlockchainTx != nil {
		fields["transaction_id"] = *form.BlockchainTx
	}
	if form.BlockchainHash != nil {
		fields["hash"] = *form.BlockchainHash
	}
	if form.BlockchainTimestamp != nil {
		fields["issued_at"] = form.BlockchainTimestamp.UTC().Format(time.RFC3339)
	}
	return newStruct(fields)
}

func newStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func (s *QueryServer) toStatus(err error, fallback string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return status.Error(codes.NotFound, "form_not_found")
	}
	if opErr, ok := clearance.AsError(err); ok {
		switch opErr.Code {
		case clearance.ErrFormNotFound:
			return status.Error(codes.NotFound, opErr.Code)
		case clearance.ErrValidationFailed:
			return status.Error(codes.InvalidArgument, opErr.Code)
		}
	}
	s.logger.WithError(err).Error(fallback)
	return status.Error(codes.Internal, fallback)
}

func RegisterClearanceQueryServer(registrar grpc.ServiceRegistrar, srv ClearanceQueryServer) {
	registrar.RegisterService(&clearanceQueryServiceDesc, srv)
}

var clearanceQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClearanceQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetClearanceStatus", Handler: getClearanceStatusHandler},
		{MethodName: "GetCertificate", Handler: getCertificateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nodues/clearance/v1/query.proto",
}

func getClearanceStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClearanceQueryServer).GetClearanceStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getClearanceStatusMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClearanceQueryServer).GetClearanceStatus(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getCertificateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClearanceQueryServer).GetCertificate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getCertificateMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClearanceQueryServer).GetCertificate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ClearanceQueryClient is the caller side used by other campus services.
type ClearanceQueryClient struct {
	cc grpc.ClientConnInterface
}

func NewClearanceQueryClient(cc grpc.ClientConnInterface) *ClearanceQueryClient {
	return &ClearanceQueryClient{cc: cc}
}

func (c *ClearanceQueryClient) GetClearanceStatus(ctx context.Context, registrationNo string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getClearanceStatusMethod, wrapperspb.String(registrationNo), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ClearanceQueryClient) GetCertificate(ctx context.Context, formID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getCertificateMethod, wrapperspb.String(formID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
