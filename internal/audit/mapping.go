package audit

// ActionResource holds action and resource derived from an API route.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides: these read better as events than as verb/noun pairs.
var routeOverrides = map[string]ActionResource{
	"put/friend":             {Action: "friend_added", Resource: "friend"},
	"delete/friend":          {Action: "friend_removed", Resource: "friend"},
	"delete/session":         {Action: "logout", Resource: "session"},
	"put/placeEnrichment":    {Action: "enrichment_requested", Resource: "place"},
	"delete/placeEnrichment": {Action: "enrichment_reset", Resource: "place"},
}

// ParseRoute returns action and resource for an API method and path (e.g. put, user).
// Unlisted routes map put to update and delete to delete with the path as resource.
func ParseRoute(method, path string) ActionResource {
	if ar, ok := routeOverrides[method+"/"+path]; ok {
		return ar
	}
	if path == "" {
		path = "unknown"
	}
	switch method {
	case "put":
		return ActionResource{Action: "update", Resource: path}
	case "delete":
		return ActionResource{Action: "delete", Resource: path}
	case "get":
		return ActionResource{Action: "get", Resource: path}
	default:
		return ActionResource{Action: "unknown", Resource: path}
	}
}

// Audited reports whether calls to method are recorded. Reads are not.
func Audited(method string) bool {
	return method == "put" || method == "delete"
}
