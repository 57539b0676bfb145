package authz

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"nodues/clearance/internal/auth"
	"nodues/clearance/internal/db"
)

var (
	ErrUnauthenticated = errors.New("missing_token")
	ErrForbidden       = errors.New("forbidden")
)

// Principal is the resolved caller. Staff principals carry the names of their departments,
// student principals carry their registration number.
type Principal struct {
	UserID          string
	Role            string
	Name            string
	Email           string
	RegistrationNo  string
	DepartmentIDs   []string
	DepartmentNames []string
}

func (p Principal) IsAdmin() bool {
	return p.Role == auth.UserTypeAdmin
}

func (p Principal) IsStudent() bool {
	return p.Role == auth.UserTypeStudent
}

func (p Principal) IsStaff() bool {
	return p.Role == auth.UserTypeDepartment || p.Role == auth.UserTypeAdmin
}

func (p Principal) CanActFor(department string) bool {
	if p.IsAdmin() {
		return true
	}
	if p.Role != auth.UserTypeDepartment {
		return false
	}
	for _, name := range p.DepartmentNames {
		if strings.EqualFold(name, department) {
			return true
		}
	}
	return false
}

func (p Principal) OwnsRegistration(registrationNo string) bool {
	return p.IsStudent() && p.RegistrationNo != "" && strings.EqualFold(p.RegistrationNo, registrationNo)
}

type Authorizer interface {
	Resolve(ctx context.Context, claims *auth.Claims) (Principal, error)
}

type ProfileSource interface {
	GetProfile(ctx context.Context, id string) (db.Profile, error)
	ListDepartmentsByIDs(ctx context.Context, ids []string) ([]db.Department, error)
}

// ProfileAuthorizer trusts the token for students and the profiles table for staff. A staff
// token whose profile is missing or inactive is refused even when its signature is valid.
type ProfileAuthorizer struct {
	source ProfileSource
}

func NewProfileAuthorizer(source ProfileSource) *ProfileAuthorizer {
	return &ProfileAuthorizer{source: source}
}

func (a *ProfileAuthorizer) Resolve(ctx context.Context, claims *auth.Claims) (Principal, error) {
	if claims == nil {
		return Principal{}, ErrUnauthenticated
	}
	if claims.IsStudent() {
		if claims.RegistrationNo == "" {
			return Principal{}, ErrForbidden
		}
		return Principal{
			UserID:         claims.UserID,
			Role:           auth.UserTypeStudent,
			RegistrationNo: strings.ToUpper(claims.RegistrationNo),
		}, nil
	}
	if !claims.IsStaff() {
		return Principal{}, ErrForbidden
	}

	profile, err := a.source.GetProfile(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrForbidden
		}
		return Principal{}, err
	}
	if !profile.IsActive || (profile.Role != auth.UserTypeDepartment && profile.Role != auth.UserTypeAdmin) {
		return Principal{}, ErrForbidden
	}

	principal := Principal{
		UserID:        profile.ID,
		Role:          profile.Role,
		Name:          profile.FullName,
		Email:         profile.Email,
		DepartmentIDs: profile.AssignedDepartmentIDs,
	}
	if len(profile.AssignedDepartmentIDs) > 0 {
		departments, err := a.source.ListDepartmentsByIDs(ctx, profile.AssignedDepartmentIDs)
		if err != nil {
			return Principal{}, err
		}
		for _, d := range departments {
			principal.DepartmentNames = append(principal.DepartmentNames, d.Name)
		}
	}
	return principal, nil
}
