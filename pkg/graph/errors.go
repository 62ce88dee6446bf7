package graph

import "github.com/pkg/errors"

// Structural errors. Each aborts only the operation that produced it.
var (
	ErrBadGeometryType = errors.New("graph: unsupported geometry type")
	ErrBadObjectType   = errors.New("graph: no matching geometry")
	ErrNotFound        = errors.New("graph: node not found")
	ErrNotApplicable   = errors.New("graph: constraint not applicable to geometry")
	ErrSelfConstraint  = errors.New("graph: constraint references the same geometry twice")
	ErrReadOnly        = errors.New("graph: geometry is read-only")
	ErrErased          = errors.New("graph: group has been erased")
)

// Fatal errors. They mean the node table cannot be trusted.
var (
	ErrDuplicateNode = errors.New("graph: duplicate node id")
	ErrCorrupt       = errors.New("graph: corrupt group data")
)
