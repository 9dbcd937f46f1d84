package errors

import sterrors "errors"

var (
	ErrServiceRequired     = sterrors.New("flowscope: service is required")
	ErrRouteIDRequired     = sterrors.New("flowscope: route id is required")
	ErrEndpointURIRequired = sterrors.New("flowscope: endpoint uri is required")
	ErrUnknownComponent    = sterrors.New("flowscope: no component found for scheme")
	ErrDuplicateRoute      = sterrors.New("flowscope: route already exists")
	ErrRouteNotFound       = sterrors.New("flowscope: route not found")
	ErrDuplicateNodeID     = sterrors.New("flowscope: duplicate node id")
	ErrNoConsumers         = sterrors.New("flowscope: no consumers available on endpoint")
	ErrMultipleConsumers   = sterrors.New("flowscope: endpoint already has a consumer")

	ErrEntityNotFound     = sterrors.New("flowscope: managed entity not found")
	ErrNameConflict       = sterrors.New("flowscope: managed name already registered to another entity")
	ErrInvalidObjectName  = sterrors.New("flowscope: invalid object name")
	ErrUnknownOperation   = sterrors.New("flowscope: unknown operation")
	ErrUnknownAttribute   = sterrors.New("flowscope: unknown attribute")
	ErrReadOnlyAttribute  = sterrors.New("flowscope: attribute is read-only")
	ErrInvalidArgument    = sterrors.New("flowscope: invalid argument")
	ErrManagementDisabled = sterrors.New("flowscope: management is disabled")

	ErrUnknownLanguage     = sterrors.New("flowscope: unknown language")
	ErrInvalidSyntax       = sterrors.New("flowscope: invalid syntax")
	ErrInvalidRange        = sterrors.New("flowscope: invalid range")
	ErrUnknownType         = sterrors.New("flowscope: unknown type")
	ErrNoSuspendedExchange = sterrors.New("flowscope: no suspended exchange at node")
	ErrNotBrowsable        = sterrors.New("flowscope: endpoint is not browsable")
)
