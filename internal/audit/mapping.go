package audit

import "strings"

// ActionResource holds action and resource derived from a gRPC full method name.
type ActionResource struct {
	Action   string
	Resource string
}

// Method overrides where the service name is not the audited resource.
const (
	authImpersonate = "/lms.auth.v1.AuthService/Impersonate"
	authLogoutAll   = "/lms.auth.v1.AuthService/LogoutAll"
	authEnrollMFA   = "/lms.auth.v1.AuthService/EnrollMFA"
	authConfirmMFA  = "/lms.auth.v1.AuthService/ConfirmMFA"
)

// ParseFullMethod returns action and resource for a gRPC full method (e.g. /lms.session.v1.SessionService/ListSessions).
// Action is a verb: get, list, create, update, delete, revoke, or a lowercase method name for others.
// Resource is derived from the service name (e.g. SessionService -> session).
func ParseFullMethod(fullMethod string) ActionResource {
	switch fullMethod {
	case authImpersonate:
		return ActionResource{Action: "impersonate", Resource: "user"}
	case authLogoutAll:
		return ActionResource{Action: "revoke_all", Resource: "session"}
	case authEnrollMFA:
		return ActionResource{Action: "mfa_enroll", Resource: "user"}
	case authConfirmMFA:
		return ActionResource{Action: "mfa_confirm", Resource: "user"}
	}
	// fullMethod format: /lms.package.v1.ServiceName/MethodName
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := fullMethod[:slash]
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return ActionResource{Action: strings.ToLower(method), Resource: "unknown"}
	}
	serviceName := beforeSlash[dot+1:]
	resource := serviceToResource(serviceName)
	action := methodToAction(method)
	return ActionResource{Action: action, Resource: resource}
}

func serviceToResource(serviceName string) string {
	// SessionService -> session, AuditService -> audit
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}

func methodToAction(method string) string {
	switch {
	case strings.HasPrefix(method, "Get") && method != "Get":
		return "get"
	case strings.HasPrefix(method, "List"):
		return "list"
	case strings.HasPrefix(method, "Create"):
		return "create"
	case strings.HasPrefix(method, "Update"):
		return "update"
	case strings.HasPrefix(method, "Delete"):
		return "delete"
	case strings.HasPrefix(method, "Revoke"):
		return "revoke"
	case strings.HasPrefix(method, "Verify"):
		return "verify"
	default:
		return strings.ToLower(method)
	}
}
