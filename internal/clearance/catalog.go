package clearance

import (
	"context"

	"golang.org/x/sync/errgroup"

	"nodues/clearance/internal/db"
)

// Catalog is the public form configuration: the academic hierarchy and the departments that
// clear forms.
type Catalog struct {
	Schools     []db.School
	Courses     []db.Course
	Branches    []db.Branch
	Departments []db.Department
}

func LoadCatalog(ctx context.Context, q *db.Queries) (Catalog, error) {
	var c Catalog
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		c.Schools, err = q.ListActiveSchools(gctx)
		return err
	})
	g.Go(func() (err error) {
		c.Courses, err = q.ListActiveCourses(gctx)
		return err
	})
	g.Go(func() (err error) {
		c.Branches, err = q.ListActiveBranches(gctx)
		return err
	})
	g.Go(func() (err error) {
		c.Departments, err = q.ListActiveDepartments(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Catalog{}, serverError(err)
	}
	return c, nil
}
