package dispatch

import (
	"sort"
	"strconv"

	"github.com/jarrod-lowe/jmap-service-libs/jmaperror"
	"github.com/jarrod-lowe/jmap-service-libs/plugincontract"
	"github.com/jarrod-lowe/jmap-service-mail/internal/seterror"
)

// SetRequest is the parsed argument object of a /set invocation.
type SetRequest struct {
	// Caller is the authenticated account; AccountID is the account acted on.
	Caller    string
	AccountID string
	IfInState *string
	Create    map[string]map[string]any
	Update    map[string]map[string]any
	Destroy   []string
	Args      plugincontract.Args

	badCreate []string
	badUpdate []string
}

// ParseSetRequest extracts the /set arguments. A create or update container
// that is not an object, or a destroy list that is not an array of strings,
// rejects the whole invocation. Individual entries that are not objects are
// rejected later, per entry, by SetResponse.RejectMalformed.
func ParseSetRequest(request plugincontract.PluginInvocationRequest) (*SetRequest, *jmaperror.MethodError) {
	args := request.Args
	req := &SetRequest{
		Caller:    request.AccountID,
		AccountID: args.StringOr("accountId", request.AccountID),
		Create:    map[string]map[string]any{},
		Update:    map[string]map[string]any{},
		Args:      args,
	}

	if v, ok := args["ifInState"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, jmaperror.InvalidArguments("ifInState must be a string")
		}
		req.IfInState = &s
	}

	if v, ok := args["create"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, jmaperror.InvalidArguments("create must be an object")
		}
		for id, entry := range m {
			obj, ok := entry.(map[string]any)
			if !ok {
				req.badCreate = append(req.badCreate, id)
				continue
			}
			req.Create[id] = obj
		}
	}

	if v, ok := args["update"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, jmaperror.InvalidArguments("update must be an object")
		}
		for id, entry := range m {
			obj, ok := entry.(map[string]any)
			if !ok {
				req.badUpdate = append(req.badUpdate, id)
				continue
			}
			req.Update[id] = obj
		}
	}

	if v, ok := args["destroy"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, jmaperror.InvalidArguments("destroy must be an array")
		}
		for _, item := range list {
			id, ok := item.(string)
			if !ok {
				return nil, jmaperror.InvalidArguments("destroy must contain only ids")
			}
			req.Destroy = append(req.Destroy, id)
		}
	}

	return req, nil
}

// CreateIDs returns the creation ids in a stable order.
func (r *SetRequest) CreateIDs() []string {
	return sortedKeys(r.Create)
}

// UpdateIDs returns the ids to update in a stable order.
func (r *SetRequest) UpdateIDs() []string {
	return sortedKeys(r.Update)
}

// Bool returns a boolean argument, false when absent.
func (r *SetRequest) Bool(name string) bool {
	v, _ := r.Args[name].(bool)
	return v
}

// CheckState compares ifInState with the current state.
func (r *SetRequest) CheckState(current int64) *jmaperror.MethodError {
	if r.IfInState == nil || *r.IfInState == strconv.FormatInt(current, 10) {
		return nil
	}
	return &jmaperror.MethodError{
		ErrType:     "stateMismatch",
		Description: "ifInState does not match the current state",
	}
}

// SetResponse collects the per-entry outcomes of a /set invocation.
type SetResponse struct {
	OldState     int64
	NewState     int64
	Created      map[string]any
	NotCreated   map[string]*seterror.SetError
	Updated      map[string]any
	NotUpdated   map[string]*seterror.SetError
	Destroyed    []string
	NotDestroyed map[string]*seterror.SetError
}

// NewSetResponse creates an empty response at oldState.
func NewSetResponse(oldState int64) *SetResponse {
	return &SetResponse{
		OldState:     oldState,
		NewState:     oldState,
		Created:      map[string]any{},
		NotCreated:   map[string]*seterror.SetError{},
		Updated:      map[string]any{},
		NotUpdated:   map[string]*seterror.SetError{},
		Destroyed:    []string{},
		NotDestroyed: map[string]*seterror.SetError{},
	}
}

// RejectMalformed reports the entries of req that were not objects.
func (r *SetResponse) RejectMalformed(req *SetRequest) {
	for _, id := range req.badCreate {
		r.NotCreated[id] = seterror.InvalidArguments("create data must be an object")
	}
	for _, id := range req.badUpdate {
		r.NotUpdated[id] = seterror.InvalidArguments("update data must be an object")
	}
}

// Advance records a new state if it is later than the current one.
func (r *SetResponse) Advance(state int64) {
	if state > r.NewState {
		r.NewState = state
	}
}

// Args renders the response arguments.
func (r *SetResponse) Args(accountID string) map[string]any {
	return map[string]any{
		"accountId":    accountID,
		"oldState":     strconv.FormatInt(r.OldState, 10),
		"newState":     strconv.FormatInt(r.NewState, 10),
		"created":      r.Created,
		"notCreated":   errorMap(r.NotCreated),
		"updated":      r.Updated,
		"notUpdated":   errorMap(r.NotUpdated),
		"destroyed":    r.Destroyed,
		"notDestroyed": errorMap(r.NotDestroyed),
	}
}

// Response wraps the rendered arguments as the reply to a method call.
func (r *SetResponse) Response(method, clientID, accountID string) plugincontract.PluginInvocationResponse {
	return plugincontract.PluginInvocationResponse{
		MethodResponse: plugincontract.MethodResponse{
			Name:     method,
			Args:     r.Args(accountID),
			ClientID: clientID,
		},
	}
}

func errorMap(m map[string]*seterror.SetError) map[string]any {
	out := make(map[string]any, len(m))
	for id, e := range m {
		out[id] = e.ToMap()
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
