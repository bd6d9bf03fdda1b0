// Package dispatch routes plugin invocations to the method handlers and
// holds the request and response shapes shared by the /set methods.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/jarrod-lowe/jmap-service-libs/jmaperror"
	"github.com/jarrod-lowe/jmap-service-libs/plugincontract"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HandlerFunc handles one method invocation.
type HandlerFunc func(ctx context.Context, request plugincontract.PluginInvocationRequest) (plugincontract.PluginInvocationResponse, error)

// Dispatcher is a fixed table from method name to handler.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// New creates a Dispatcher over handlers. The table is copied and never
// changes afterwards.
func New(handlers map[string]HandlerFunc, logger *slog.Logger) *Dispatcher {
	table := make(map[string]HandlerFunc, len(handlers))
	for name, h := range handlers {
		table[name] = h
	}
	return &Dispatcher{handlers: table, logger: logger}
}

// Methods returns the method names the dispatcher serves, sorted.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle invokes the handler registered for request.Method. A panic in the
// handler is answered with serverFail for this invocation only.
func (d *Dispatcher) Handle(ctx context.Context, request plugincontract.PluginInvocationRequest) (resp plugincontract.PluginInvocationResponse, err error) {
	ctx, span := tracing.Tracer("jmap-mail-set").Start(ctx, "Dispatch",
		trace.WithAttributes(
			tracing.AccountID(request.AccountID),
			attribute.String("method", request.Method),
		))
	defer span.End()

	h, ok := d.handlers[request.Method]
	if !ok {
		return ErrorResponse(request.ClientID, jmaperror.UnknownMethod(fmt.Sprintf("Method %s is not supported", request.Method))), nil
	}

	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("panic in %s: %v", request.Method, r)
			d.logger.ErrorContext(ctx, "Handler panicked",
				slog.String("account_id", request.AccountID),
				slog.String("method", request.Method),
				slog.String("error", perr.Error()),
				slog.String("stack", string(debug.Stack())),
			)
			tracing.RecordError(span, perr)
			resp = ErrorResponse(request.ClientID, jmaperror.ServerFail("An unexpected error occurred", perr))
			err = nil
		}
	}()

	return h(ctx, request)
}

// ErrorResponse creates a method-level error response.
func ErrorResponse(clientID string, err *jmaperror.MethodError) plugincontract.PluginInvocationResponse {
	return plugincontract.PluginInvocationResponse{
		MethodResponse: plugincontract.MethodResponse{
			Name:     "error",
			Args:     err.ToMap(),
			ClientID: clientID,
		},
	}
}
