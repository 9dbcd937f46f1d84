package runtime

import (
	"context"
	"fmt"

	"github.com/drblury/flowscope/internal/runtime/backlog"
	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/registry"
)

// ManagedTracer exposes the backlog tracer as tracer/BacklogTracer.
type ManagedTracer struct {
	svc    *Service
	tracer *backlog.Tracer
}

func (m *ManagedTracer) ManagedAttributes() map[string]any {
	t := m.tracer
	lang, filter := t.TraceFilter()
	return map[string]any{
		"Enabled":        t.IsEnabled(),
		"BacklogSize":    t.BacklogSize(),
		"TracePattern":   t.TracePattern(),
		"TraceFilter":    filter,
		"FilterLanguage": lang,
		"RemoveOnDump":   t.RemoveOnDump(),
		"BodyMaxChars":   t.BodyMaxChars(),
		"TraceCounter":   t.TraceCounter(),
		"QueueSize":      t.QueueSize(),
	}
}

func (m *ManagedTracer) SetManagedAttribute(name string, value any) error {
	t := m.tracer
	switch name {
	case "Enabled":
		v, err := registry.ToBool(value)
		if err != nil {
			return invalidAttribute(name, err)
		}
		t.SetEnabled(v)
	case "BacklogSize":
		n, err := registry.ToInt(value)
		if err != nil {
			return invalidAttribute(name, err)
		}
		return t.SetBacklogSize(n)
	case "TracePattern":
		t.SetTracePattern(registry.OptionalStringArg([]any{value}, 0))
	case "TraceFilter":
		lang, _ := t.TraceFilter()
		if lang == "" {
			lang = "simple"
		}
		return t.SetTraceFilter(lang, registry.OptionalStringArg([]any{value}, 0))
	case "RemoveOnDump":
		v, err := registry.ToBool(value)
		if err != nil {
			return invalidAttribute(name, err)
		}
		t.SetRemoveOnDump(v)
	case "BodyMaxChars":
		n, err := registry.ToInt(value)
		if err != nil {
			return invalidAttribute(name, err)
		}
		t.SetBodyMaxChars(n)
	case "TraceCounter", "QueueSize", "FilterLanguage":
		return fmt.Errorf("%w: %s", errspkg.ErrReadOnlyAttribute, name)
	default:
		return registry.UnknownAttribute(name)
	}
	return nil
}

func (m *ManagedTracer) InvokeManagedOperation(_ context.Context, op string, args []any) (any, error) {
	t := m.tracer
	switch op {
	case "dumpTracedMessages":
		id, err := registry.StringArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		return t.DumpTracedMessages(id), nil
	case "dumpTracedMessagesAsXml":
		id, err := registry.StringArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		return t.DumpTracedMessagesAsXML(id), nil
	case "dumpAllTracedMessages":
		return t.DumpAllTracedMessages(), nil
	case "dumpAllTracedMessagesAsXml":
		return t.DumpAllTracedMessagesAsXML(), nil
	case "setTraceFilter":
		lang, err := registry.StringArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		return nil, t.SetTraceFilter(lang, registry.OptionalStringArg(args, 1))
	case "clear", "purge":
		t.Clear()
		return nil, nil
	case "resetTraceCounter":
		t.ResetTraceCounter()
		return nil, nil
	}
	return nil, registry.UnknownOperation(op)
}

// ManagedDebugger exposes the breakpoint debugger as tracer/BacklogDebugger.
type ManagedDebugger struct {
	svc      *Service
	debugger *backlog.Debugger
}

func (m *ManagedDebugger) ManagedAttributes() map[string]any {
	d := m.debugger
	return map[string]any{
		"Enabled":                d.IsEnabled(),
		"SingleStepMode":         d.IsSingleStepMode(),
		"DebugCounter":           d.DebugCounter(),
		"FallbackTimeout":        d.FallbackTimeout().Milliseconds(),
		"BodyMaxChars":           d.BodyMaxChars(),
		"Breakpoints":            d.Breakpoints(),
		"SuspendedBreakpointIds": d.SuspendedBreakpointNodeIDs(),
	}
}

func (m *ManagedDebugger) SetManagedAttribute(name string, value any) error {
	d := m.debugger
	switch name {
	case "Enabled":
		v, err := registry.ToBool(value)
		if err != nil {
			return invalidAttribute(name, err)
		}
		if v {
			d.Enable()
		} else {
			d.Disable()
		}
	case "FallbackTimeout":
		v, err := registry.ToDuration(value)
		if err != nil {
			return invalidAttribute(name, err)
		}
		d.SetFallbackTimeout(v)
	case "BodyMaxChars":
		n, err := registry.ToInt(value)
		if err != nil {
			return invalidAttribute(name, err)
		}
		d.SetBodyMaxChars(n)
	case "SingleStepMode", "DebugCounter", "Breakpoints", "SuspendedBreakpointIds":
		return fmt.Errorf("%w: %s", errspkg.ErrReadOnlyAttribute, name)
	default:
		return registry.UnknownAttribute(name)
	}
	return nil
}

func (m *ManagedDebugger) InvokeManagedOperation(_ context.Context, op string, args []any) (any, error) {
	d := m.debugger
	switch op {
	case "enableDebugger":
		d.Enable()
		return nil, nil
	case "disableDebugger":
		d.Disable()
		return nil, nil
	case "step":
		d.Step()
		return nil, nil
	case "resumeAll":
		d.ResumeAll()
		return nil, nil
	case "removeAllBreakpoints":
		d.RemoveAllBreakpoints()
		return nil, nil
	case "getBreakpoints":
		return d.Breakpoints(), nil
	case "getSuspendedBreakpointNodeIds":
		return d.SuspendedBreakpointNodeIDs(), nil
	case "resetDebugCounter":
		d.ResetDebugCounter()
		return nil, nil
	case "validateConditionalBreakpoint":
		lang, err := registry.StringArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		predicate, err := registry.StringArg(op, args, 1)
		if err != nil {
			return nil, err
		}
		return d.ValidateConditionalBreakpoint(lang, predicate), nil
	}

	// Every remaining operation targets a node.
	nodeID, err := registry.StringArg(op, args, 0)
	if err != nil {
		if _, known := nodeOperations[op]; known {
			return nil, err
		}
		return nil, registry.UnknownOperation(op)
	}
	switch op {
	case "addBreakpoint":
		d.AddBreakpoint(nodeID)
		return nil, nil
	case "addConditionalBreakpoint":
		lang, err := registry.StringArg(op, args, 1)
		if err != nil {
			return nil, err
		}
		predicate, err := registry.StringArg(op, args, 2)
		if err != nil {
			return nil, err
		}
		return nil, d.AddConditionalBreakpoint(nodeID, lang, predicate)
	case "removeBreakpoint":
		d.RemoveBreakpoint(nodeID)
		return nil, nil
	case "resumeBreakpoint":
		d.ResumeBreakpoint(nodeID)
		return nil, nil
	case "stepBreakpoint":
		d.StepBreakpoint(nodeID)
		return nil, nil
	case "setMessageBodyOnBreakpoint":
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: %s expects a body", errspkg.ErrInvalidArgument, op)
		}
		return nil, d.SetMessageBodyOnBreakpoint(nodeID, args[1], registry.OptionalStringArg(args, 2))
	case "removeMessageBodyOnBreakpoint":
		d.RemoveMessageBodyOnBreakpoint(nodeID)
		return nil, nil
	case "setMessageHeaderOnBreakpoint":
		key, err := registry.StringArg(op, args, 1)
		if err != nil {
			return nil, err
		}
		if len(args) < 3 {
			return nil, fmt.Errorf("%w: %s expects a value", errspkg.ErrInvalidArgument, op)
		}
		return nil, d.SetMessageHeaderOnBreakpoint(nodeID, key, args[2], registry.OptionalStringArg(args, 3))
	case "removeMessageHeaderOnBreakpoint":
		key, err := registry.StringArg(op, args, 1)
		if err != nil {
			return nil, err
		}
		d.RemoveMessageHeaderOnBreakpoint(nodeID, key)
		return nil, nil
	case "dumpTracedMessagesAsXml":
		xml, ok := d.DumpTracedMessagesAsXML(nodeID)
		if !ok {
			return nil, nil
		}
		return xml, nil
	}
	return nil, registry.UnknownOperation(op)
}

var nodeOperations = map[string]struct{}{
	"addBreakpoint":                   {},
	"addConditionalBreakpoint":        {},
	"removeBreakpoint":                {},
	"resumeBreakpoint":                {},
	"stepBreakpoint":                  {},
	"setMessageBodyOnBreakpoint":      {},
	"removeMessageBodyOnBreakpoint":   {},
	"setMessageHeaderOnBreakpoint":    {},
	"removeMessageHeaderOnBreakpoint": {},
	"dumpTracedMessagesAsXml":         {},
}

func invalidAttribute(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", errspkg.ErrInvalidArgument, name, err)
}
