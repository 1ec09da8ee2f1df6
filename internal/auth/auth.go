// Package auth maps mTLS client identities to roles and authorises them
// against the automator gRPC methods.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	api "github.com/nixpig/trainworker/api/v1"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission denied")
)

type Permission string

const (
	PermissionJobSubmit       Permission = "job:submit"
	PermissionJobKill         Permission = "job:kill"
	PermissionJobQuery        Permission = "job:query"
	PermissionJobStream       Permission = "job:stream"
	PermissionServerTerminate Permission = "server:terminate"
)

// Role is read from the first OrganizationalUnit of the client certificate.
type Role string

const (
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

var RolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermissionJobSubmit,
		PermissionJobKill,
		PermissionJobQuery,
		PermissionJobStream,
		PermissionServerTerminate,
	},
	RoleViewer: {PermissionJobQuery, PermissionJobStream},
}

var MethodPermissions = map[string]Permission{
	api.AutomatorService_Submit_FullMethodName:    PermissionJobSubmit,
	api.AutomatorService_Status_FullMethodName:    PermissionJobQuery,
	api.AutomatorService_Kill_FullMethodName:      PermissionJobKill,
	api.AutomatorService_KillAll_FullMethodName:   PermissionJobKill,
	api.AutomatorService_Terminate_FullMethodName: PermissionServerTerminate,
	api.AutomatorService_StreamLog_FullMethodName: PermissionJobStream,
}

// GetClientIdentity returns the common name and first organisational unit of
// the verified client certificate in ctx.
func GetClientIdentity(ctx context.Context) (string, string, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return "", "", errors.New("failed to get peer info from context")
	}

	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return "", "", errors.New("failed to get TLS info from peer auth info")
	}

	if len(tlsInfo.State.VerifiedChains) == 0 ||
		len(tlsInfo.State.VerifiedChains[0]) == 0 {
		return "", "", errors.New("no verified chains in TLS info")
	}

	cert := tlsInfo.State.VerifiedChains[0][0]

	var ou string
	if len(cert.Subject.OrganizationalUnit) > 0 {
		ou = cert.Subject.OrganizationalUnit[0]
	}

	return cert.Subject.CommonName, ou, nil
}

func IsAuthorised(clientRole Role, method string) error {
	required, exists := MethodPermissions[method]
	if !exists {
		return fmt.Errorf("method %s not in method permissions", method)
	}

	permissions, ok := RolePermissions[clientRole]
	if !ok {
		return fmt.Errorf("role %s not in role permissions", clientRole)
	}

	if !slices.Contains(permissions, required) {
		return fmt.Errorf("role %s doesn't have permission %s", clientRole, required)
	}

	return nil
}

// Authorise checks the client identity in ctx may call method. It returns the
// client's common name and role for logging. Errors wrap ErrUnauthenticated or
// ErrPermissionDenied.
func Authorise(ctx context.Context, method string) (string, Role, error) {
	cn, ou, err := GetClientIdentity(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	role := Role(ou)

	if err := IsAuthorised(role, method); err != nil {
		return cn, role, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	return cn, role, nil
}
