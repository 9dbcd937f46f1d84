package runtime

import (
	"context"
	"fmt"
	"strings"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
)

func logComponent() *component {
	return &component{
		scheme:      "log",
		title:       "Log",
		syntax:      "log:loggerName",
		description: "Log exchanges through the context logger.",
		options: []OptionSchema{
			{Name: "loggerName", Kind: "path", Group: "producer", Type: "string", JavaType: "java.lang.String",
				Description: "Name of the logger, added to every entry."},
			{Name: "level", Kind: "parameter", Group: "producer", Type: "string", JavaType: "java.lang.String",
				DefaultValue: "INFO", Description: "Logging level: TRACE, DEBUG, INFO or ERROR."},
			{Name: "showBody", Kind: "parameter", Group: "formatting", Type: "boolean", JavaType: "boolean",
				DefaultValue: true, Description: "Show the message body."},
			{Name: "showHeaders", Kind: "parameter", Group: "formatting", Type: "boolean", JavaType: "boolean",
				DefaultValue: false, Description: "Show the message headers."},
			{Name: "showExchangeId", Kind: "parameter", Group: "formatting", Type: "boolean", JavaType: "boolean",
				DefaultValue: false, Description: "Show the exchange id."},
		},
		create: func(s *Service, uri endpointURI) (Endpoint, error) {
			e := &logEndpoint{logger: s.Logger, level: "INFO"}
			if v, ok := uri.option("level"); ok {
				e.level = strings.ToUpper(v)
			}
			switch e.level {
			case "TRACE", "DEBUG", "INFO", "ERROR":
			default:
				return nil, fmt.Errorf("%w: unknown log level %q", errspkg.ErrInvalidArgument, e.level)
			}
			var err error
			if e.showBody, err = uri.boolOption("showBody", true); err != nil {
				return nil, err
			}
			if e.showHeaders, err = uri.boolOption("showHeaders", false); err != nil {
				return nil, err
			}
			if e.showExchangeID, err = uri.boolOption("showExchangeId", false); err != nil {
				return nil, err
			}
			return e, nil
		},
	}
}

type logEndpoint struct {
	endpointBase
	logger         loggingpkg.ServiceLogger
	level          string
	showBody       bool
	showHeaders    bool
	showExchangeID bool
}

func (e *logEndpoint) Send(_ context.Context, ex *exchangepkg.Exchange) error {
	fields := loggingpkg.LogFields{
		"logger":                 e.uri.Path,
		loggingpkg.FieldRouteID:  ex.RouteID,
		loggingpkg.FieldEndpoint: e.URI(),
	}
	if e.showExchangeID {
		fields[loggingpkg.FieldExchangeID] = ex.ID
	}
	if e.showBody {
		fields["body"] = ex.In.BodyString()
	}
	if e.showHeaders {
		fields["headers"] = ex.In.Headers.Map()
	}
	switch e.level {
	case "TRACE":
		e.logger.Trace("Exchange", fields)
	case "DEBUG":
		e.logger.Debug("Exchange", fields)
	case "ERROR":
		e.logger.Error("Exchange", ex.Err, fields)
	default:
		e.logger.Info("Exchange", fields)
	}
	return nil
}
